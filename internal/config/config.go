package config

import (
	"encoding/json"
	"fmt"
	"os"

	"caresms/internal/constants"
	"caresms/internal/models"
	"caresms/internal/validation"
)

var (
	ErrMissingFHIRURL    = models.ConfigError{Message: "missing clinical store base URL"}
	ErrMissingAccountSID = models.ConfigError{Message: "missing SMS provider account SID"}
	ErrMissingAuthToken  = models.ConfigError{Message: "missing SMS provider auth token"}
	ErrMissingFromPhone  = models.ConfigError{Message: "missing SMS provider sending number"}
	ErrMissingDBPath     = models.ConfigError{Message: "missing ledger database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	if err := validation.ValidateStorePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.FHIR.BaseURL == "" {
		return ErrMissingFHIRURL
	}
	if c.Twilio.AccountSID == "" {
		return ErrMissingAccountSID
	}
	if c.Twilio.AuthToken == "" {
		return ErrMissingAuthToken
	}
	if c.Twilio.FromPhone == "" {
		return ErrMissingFromPhone
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if _, err := validation.NormalizePhone(c.Twilio.FromPhone, ""); err != nil {
		return models.ConfigError{Message: fmt.Sprintf("sending number is not a valid E.164 phone number: %v", err)}
	}

	if c.FHIR.TimeoutSec <= 0 {
		c.FHIR.TimeoutSec = constants.DefaultFHIRTimeoutSec
	}
	if c.Twilio.TimeoutSec <= 0 {
		c.Twilio.TimeoutSec = constants.DefaultTwilioTimeoutSec
	}
	if c.Database.RetentionDays <= 0 {
		c.Database.RetentionDays = constants.DefaultRetentionDays
	}
	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}
	if c.Reconcile.StaleThresholdMinutes <= 0 {
		c.Reconcile.StaleThresholdMinutes = constants.DefaultStaleSubmittedMinutes
	}
	if c.Reconcile.IntervalMinutes <= 0 {
		c.Reconcile.IntervalMinutes = constants.DefaultReconcileIntervalMinutes
	}
	if c.Reconcile.ExecuteIntervalMin <= 0 {
		c.Reconcile.ExecuteIntervalMin = constants.DefaultExecuteIntervalMinutes
	}
	if c.Identity.CacheTTLMinutes <= 0 {
		c.Identity.CacheTTLMinutes = constants.DefaultIdentityCacheTTLMinutes
	}
	if c.Identity.DefaultRegionCode == "" {
		c.Identity.DefaultRegionCode = "+1"
	}
	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("FHIR_BASE_URL"); url != "" {
		c.FHIR.BaseURL = url
	}
	if user := os.Getenv("FHIR_USERNAME"); user != "" {
		c.FHIR.Username = user
	}
	if pass := os.Getenv("FHIR_PASSWORD"); pass != "" {
		c.FHIR.Password = pass
	}

	// Provider credentials should come from the environment, not the file.
	if sid := os.Getenv("TWILIO_ACCOUNT_SID"); sid != "" {
		c.Twilio.AccountSID = sid
	}
	if token := os.Getenv("TWILIO_AUTH_TOKEN"); token != "" {
		c.Twilio.AuthToken = token
	}
	if phone := os.Getenv("TWILIO_FROM_PHONE"); phone != "" {
		c.Twilio.FromPhone = phone
	}

	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if token := os.Getenv("CARESMS_ADMIN_TOKEN"); token != "" {
		c.Server.AdminAuthToken = token
	}
	if base := os.Getenv("CARESMS_PUBLIC_BASE_URL"); base != "" {
		c.Server.PublicBaseURL = base
	}
}

// validateSecurity enforces hardening requirements in production deployments.
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("CARESMS_ENV") == "production"

	if isProduction {
		if c.Server.AdminAuthToken == "" {
			return models.ConfigError{Message: "admin auth token is required in production (set CARESMS_ADMIN_TOKEN environment variable)"}
		}
		if len(c.Server.AdminAuthToken) < constants.DefaultWebhookAuthMinLength {
			return models.ConfigError{Message: fmt.Sprintf("admin auth token must be at least %d characters long", constants.DefaultWebhookAuthMinLength)}
		}
		if os.Getenv("CARESMS_ENABLE_ENCRYPTION") != "true" {
			return models.ConfigError{Message: "at-rest encryption is required in production (set CARESMS_ENABLE_ENCRYPTION=true)"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (message content may leak into logs)"}
		}
	} else {
		if c.Server.AdminAuthToken == "" {
			fmt.Fprintf(os.Stderr, "WARNING: admin auth token not set. Set CARESMS_ADMIN_TOKEN to protect the execute and reconcile endpoints.\n")
		}
	}

	return nil
}
