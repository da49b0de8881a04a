package models

// Config holds the application configuration
type Config struct {
	FHIR      FHIRConfig      `json:"fhir"`
	Twilio    TwilioConfig    `json:"twilio"`
	Database  DatabaseConfig  `json:"database"`
	Retry     RetryConfig     `json:"retry"`
	Reconcile ReconcileConfig `json:"reconcile"`
	Identity  IdentityConfig  `json:"identity"`
	Server    ServerConfig    `json:"server"`
	Tracing   TracingConfig   `json:"tracing"`
	LogLevel  string          `json:"log_level"`
}

// FHIRConfig holds clinical record store related configuration
type FHIRConfig struct {
	BaseURL       string `json:"base_url"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	TimeoutSec    int    `json:"timeoutSec"`
	RetentionDays int    `json:"retentionDays"`
}

// TwilioConfig holds SMS provider related configuration
type TwilioConfig struct {
	AccountSID        string `json:"account_sid"`
	AuthToken         string `json:"auth_token"`
	FromPhone         string `json:"from_phone"`
	APIBaseURL        string `json:"api_base_url"`
	StatusCallbackURL string `json:"status_callback_url"`
	TimeoutSec        int    `json:"timeoutSec"`
}

// DatabaseConfig holds ledger database related configuration
type DatabaseConfig struct {
	Path          string `json:"path"`
	RetentionDays int    `json:"retentionDays"`
}

// RetryConfig holds retry related configuration
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// ReconcileConfig holds reconciliation loop configuration
type ReconcileConfig struct {
	StaleThresholdMinutes int  `json:"staleThresholdMinutes"`
	IntervalMinutes       int  `json:"intervalMinutes"`
	ExecuteIntervalMin    int  `json:"executeIntervalMinutes"`
	ExecuteOnSchedule     bool `json:"executeOnSchedule"`
}

// IdentityConfig holds identity resolver cache configuration
type IdentityConfig struct {
	CacheTTLMinutes   int    `json:"cacheTTLMinutes"`
	DefaultRegionCode string `json:"defaultRegionCode"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int    `json:"port"`
	AdminAuthToken string `json:"admin_auth_token"`
	PublicBaseURL  string `json:"public_base_url"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
