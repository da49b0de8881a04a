package validation

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"caresms/internal/errors"
	"caresms/internal/models"
)

// NormalizePhone converts a raw phone number into E.164 form. Numbers without
// a country code get defaultPrefix (e.g. "+1") prepended. Formatting
// characters are tolerated; anything else is rejected.
func NormalizePhone(raw, defaultPrefix string) (string, error) {
	var b strings.Builder
	hasPlus := false
	for i, r := range raw {
		switch {
		case r == '+' && i == 0:
			hasPlus = true
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// formatting noise
		default:
			return "", errors.NewValidationError("phone", fmt.Sprintf("unexpected character %q in phone number", r))
		}
	}

	digits := b.String()
	if len(digits) < 7 || len(digits) > 15 {
		return "", errors.NewValidationError("phone", "phone number must have 7 to 15 digits")
	}

	if hasPlus {
		return "+" + digits, nil
	}
	if defaultPrefix == "" {
		return "", errors.NewValidationError("phone", "phone number missing country code")
	}
	// A leading national trunk digit matching the default prefix collapses
	// into it: 1XXXXXXXXXX with prefix +1 becomes +1XXXXXXXXXX.
	trunk := strings.TrimPrefix(defaultPrefix, "+")
	if strings.HasPrefix(digits, trunk) && len(digits) > 10 {
		return "+" + digits, nil
	}
	return defaultPrefix + digits, nil
}

// TelecomSearchValue returns the form of a phone number used for clinical
// store telecom searches, which index national numbers without the +1 prefix.
func TelecomSearchValue(phone string) string {
	v := strings.TrimPrefix(phone, "+1")
	return strings.TrimPrefix(v, "+")
}

// ValidateIntent checks an outbound message intent before it reaches the bridge
func ValidateIntent(intent *models.OutboundMessageIntent) error {
	if intent == nil {
		return errors.NewValidationError("intent", "intent is required")
	}
	if strings.TrimSpace(intent.IdempotencyKey) == "" {
		return errors.NewValidationError("idempotencyKey", "idempotency key must be non-empty")
	}
	if strings.TrimSpace(intent.SubjectID) == "" {
		return errors.NewValidationError("subjectId", "subject is required")
	}
	if strings.TrimSpace(intent.Body) == "" {
		return errors.NewValidationError("body", "message body must be non-empty")
	}
	switch intent.Priority {
	case "", "routine", "urgent", "stat":
	default:
		return errors.NewValidationError("priority", fmt.Sprintf("invalid priority %q, only routine, urgent and stat are allowed", intent.Priority))
	}
	return nil
}

// ValidateInboundEvent checks a normalized webhook event before it reaches
// the bridge. Webhook payloads are untrusted input.
func ValidateInboundEvent(event *models.InboundEvent) error {
	if event == nil {
		return errors.NewValidationError("event", "event is required")
	}
	switch event.Kind {
	case models.EventKindReply:
		if event.FromPhone == "" {
			return errors.NewValidationError("fromPhone", "reply event missing sender phone")
		}
		if event.Body == "" {
			return errors.NewValidationError("body", "reply event missing body")
		}
	case models.EventKindStatus:
		if event.ProviderSID == "" {
			return errors.NewValidationError("providerMessageId", "status event missing provider message id")
		}
		if event.ProviderStatus == "" {
			return errors.NewValidationError("providerStatus", "status event missing provider status")
		}
	default:
		return errors.NewValidationError("kind", fmt.Sprintf("unknown event kind %q", event.Kind))
	}
	return nil
}

// ValidateStorePath rejects file paths with traversal components so a
// misconfigured ledger path cannot escape the data directory.
func ValidateStorePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.Contains(filepath.Clean(path), "..") {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}
	return nil
}
