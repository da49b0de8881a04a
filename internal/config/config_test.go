package config

import (
	"os"
	"path/filepath"
	"testing"

	"caresms/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const validConfig = `{
	"fhir": {"base_url": "http://fhir.internal:8080/fhir"},
	"twilio": {
		"account_sid": "AC00000000000000000000000000000000",
		"auth_token": "secret-token",
		"from_phone": "+15550001111"
	},
	"database": {"path": "/var/lib/caresms/ledger.db"},
	"log_level": "info"
}`

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultFHIRTimeoutSec, cfg.FHIR.TimeoutSec)
	assert.Equal(t, constants.DefaultTwilioTimeoutSec, cfg.Twilio.TimeoutSec)
	assert.Equal(t, constants.DefaultRetentionDays, cfg.Database.RetentionDays)
	assert.Equal(t, constants.DefaultMaxAttempts, cfg.Retry.MaxAttempts)
	assert.Equal(t, constants.DefaultStaleSubmittedMinutes, cfg.Reconcile.StaleThresholdMinutes)
	assert.Equal(t, constants.DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, "+1", cfg.Identity.DefaultRegionCode)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"missing fhir url", `{"twilio": {"account_sid": "AC1", "auth_token": "x", "from_phone": "+15550001111"}, "database": {"path": "l.db"}}`, ErrMissingFHIRURL},
		{"missing account sid", `{"fhir": {"base_url": "http://x"}, "twilio": {"auth_token": "x", "from_phone": "+15550001111"}, "database": {"path": "l.db"}}`, ErrMissingAccountSID},
		{"missing auth token", `{"fhir": {"base_url": "http://x"}, "twilio": {"account_sid": "AC1", "from_phone": "+15550001111"}, "database": {"path": "l.db"}}`, ErrMissingAuthToken},
		{"missing from phone", `{"fhir": {"base_url": "http://x"}, "twilio": {"account_sid": "AC1", "auth_token": "x"}, "database": {"path": "l.db"}}`, ErrMissingFromPhone},
		{"missing db path", `{"fhir": {"base_url": "http://x"}, "twilio": {"account_sid": "AC1", "auth_token": "x", "from_phone": "+15550001111"}}`, ErrMissingDBPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := LoadConfig(path)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadConfigRejectsBadFromPhone(t *testing.T) {
	path := writeConfig(t, `{
		"fhir": {"base_url": "http://x"},
		"twilio": {"account_sid": "AC1", "auth_token": "x", "from_phone": "not-a-number"},
		"database": {"path": "l.db"}
	}`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("FHIR_BASE_URL", "http://fhir.other:8080/fhir")
	t.Setenv("TWILIO_AUTH_TOKEN", "env-token")
	t.Setenv("DB_PATH", "/data/override.db")
	t.Setenv("CARESMS_ADMIN_TOKEN", "env-admin-token")

	path := writeConfig(t, validConfig)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://fhir.other:8080/fhir", cfg.FHIR.BaseURL)
	assert.Equal(t, "env-token", cfg.Twilio.AuthToken)
	assert.Equal(t, "/data/override.db", cfg.Database.Path)
	assert.Equal(t, "env-admin-token", cfg.Server.AdminAuthToken)
}

func TestProductionHardening(t *testing.T) {
	t.Setenv("CARESMS_ENV", "production")

	path := writeConfig(t, validConfig)
	_, err := LoadConfig(path)
	assert.Error(t, err, "production requires an admin token")

	t.Setenv("CARESMS_ADMIN_TOKEN", "short")
	_, err = LoadConfig(path)
	assert.Error(t, err, "production rejects weak admin tokens")

	t.Setenv("CARESMS_ADMIN_TOKEN", "long-enough-admin-token-with-32-chars!!")
	_, err = LoadConfig(path)
	assert.Error(t, err, "production requires at-rest encryption")

	t.Setenv("CARESMS_ENABLE_ENCRYPTION", "true")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigRejectsTraversalPath(t *testing.T) {
	_, err := LoadConfig("../outside/config.json")
	assert.Error(t, err)
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := writeConfig(t, "{not json")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
