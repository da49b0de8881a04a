package validation

import (
	"testing"

	"caresms/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		prefix  string
		want    string
		wantErr bool
	}{
		{"already e164", "+15551234567", "+1", "+15551234567", false},
		{"national number gets prefix", "5551234567", "+1", "+15551234567", false},
		{"trunk digit collapses into prefix", "15551234567", "+1", "+15551234567", false},
		{"formatting noise tolerated", "(555) 123-4567", "+1", "+15551234567", false},
		{"dots and spaces", "555.123 4567", "+1", "+15551234567", false},
		{"no prefix available", "5551234567", "", "", true},
		{"letters rejected", "555CALLNOW", "+1", "", true},
		{"too short", "12345", "+1", "", true},
		{"too long", "12345678901234567", "+1", "", true},
		{"plus mid-string rejected", "555+1234567", "+1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.raw, tt.prefix)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTelecomSearchValue(t *testing.T) {
	assert.Equal(t, "5551234567", TelecomSearchValue("+15551234567"))
	assert.Equal(t, "445551234567", TelecomSearchValue("+445551234567"))
	assert.Equal(t, "5551234567", TelecomSearchValue("5551234567"))
}

func TestValidateIntent(t *testing.T) {
	valid := func() *models.OutboundMessageIntent {
		return &models.OutboundMessageIntent{
			IdempotencyKey: "cr-1",
			SubjectID:      "pt-1",
			Body:           "hello",
			Priority:       "routine",
		}
	}

	assert.NoError(t, ValidateIntent(valid()))
	assert.Error(t, ValidateIntent(nil))

	missingKey := valid()
	missingKey.IdempotencyKey = "  "
	assert.Error(t, ValidateIntent(missingKey))

	missingSubject := valid()
	missingSubject.SubjectID = ""
	assert.Error(t, ValidateIntent(missingSubject))

	emptyBody := valid()
	emptyBody.Body = ""
	assert.Error(t, ValidateIntent(emptyBody))

	badPriority := valid()
	badPriority.Priority = "asap"
	assert.Error(t, ValidateIntent(badPriority))

	noPriority := valid()
	noPriority.Priority = ""
	assert.NoError(t, ValidateIntent(noPriority))
}

func TestValidateInboundEvent(t *testing.T) {
	assert.Error(t, ValidateInboundEvent(nil))
	assert.Error(t, ValidateInboundEvent(&models.InboundEvent{Kind: "ping"}))

	reply := &models.InboundEvent{Kind: models.EventKindReply, FromPhone: "+15551234567", Body: "hi"}
	assert.NoError(t, ValidateInboundEvent(reply))
	assert.Error(t, ValidateInboundEvent(&models.InboundEvent{Kind: models.EventKindReply, Body: "hi"}))
	assert.Error(t, ValidateInboundEvent(&models.InboundEvent{Kind: models.EventKindReply, FromPhone: "+15551234567"}))

	status := &models.InboundEvent{Kind: models.EventKindStatus, ProviderSID: "SM1", ProviderStatus: "delivered"}
	assert.NoError(t, ValidateInboundEvent(status))
	assert.Error(t, ValidateInboundEvent(&models.InboundEvent{Kind: models.EventKindStatus, ProviderStatus: "delivered"}))
	assert.Error(t, ValidateInboundEvent(&models.InboundEvent{Kind: models.EventKindStatus, ProviderSID: "SM1"}))
}

func TestValidateStorePath(t *testing.T) {
	assert.NoError(t, ValidateStorePath("/var/lib/caresms/ledger.db"))
	assert.NoError(t, ValidateStorePath("ledger.db"))
	assert.Error(t, ValidateStorePath(""))
	assert.Error(t, ValidateStorePath("../outside/ledger.db"))
}
