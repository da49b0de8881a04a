package constants

// Default retry configuration values
const (
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultMaxAttempts           = 5
	DefaultDatabaseRetryAttempts = 3
)

// Default timeout values
const (
	DefaultFHIRTimeoutSec        = 30
	DefaultTwilioTimeoutSec      = 30
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
)

// Default reconciliation and scheduling values
const (
	DefaultStaleSubmittedMinutes     = 30
	DefaultReconcileBatchSize        = 200
	DefaultReconcileIntervalMinutes  = 15
	DefaultExecuteIntervalMinutes    = 5
	DefaultRetentionDays             = 365
	DefaultCleanupIntervalHours      = 24
	DefaultIdentityCacheTTLMinutes   = 60
	DefaultIdentityCacheSweepMinutes = 10
)

const (
	DefaultServerPort            = 8082
	ServerErrorChannelSize       = 1
	MaxWebhookBodyBytes          = 64 * 1024
	DefaultWebhookAuthMinLength  = 32
	DefaultEncryptionSecretChars = 32
)

// Encryption parameters for at-rest field encryption of the ledger
const (
	EncryptionSalt = "caresms-ledger-salt-v1"
)
