package models

import (
	"time"
)

type DeliveryStatus string

const (
	DeliveryStatusPending       DeliveryStatus = "pending"
	DeliveryStatusSubmitted     DeliveryStatus = "submitted"
	DeliveryStatusDelivered     DeliveryStatus = "delivered"
	DeliveryStatusUndeliverable DeliveryStatus = "undeliverable"
	DeliveryStatusFailed        DeliveryStatus = "failed"
)

// Rank orders statuses for monotonic webhook application. A webhook may only
// move a record to a strictly higher rank; equal or lower ranks are stale.
func (s DeliveryStatus) Rank() int {
	switch s {
	case DeliveryStatusPending:
		return 0
	case DeliveryStatusSubmitted:
		return 1
	case DeliveryStatusDelivered, DeliveryStatusUndeliverable, DeliveryStatusFailed:
		return 2
	default:
		return -1
	}
}

// IsTerminal reports whether no further provider updates are expected.
// Failed is not terminal: a retry moves the record back to pending.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusUndeliverable
}

// CanTransition reports whether moving from one status to another is allowed.
// Re-applying the current status is always allowed so that duplicate webhooks
// are harmless.
func CanTransition(from, to DeliveryStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case DeliveryStatusPending:
		return to == DeliveryStatusSubmitted || to == DeliveryStatusFailed
	case DeliveryStatusSubmitted:
		return to == DeliveryStatusDelivered || to == DeliveryStatusUndeliverable || to == DeliveryStatusFailed
	case DeliveryStatusFailed:
		return to == DeliveryStatusPending
	default:
		return false
	}
}

// StatusFromProvider maps a provider message status onto the ledger status.
// The provider reports queued/accepted/sending/sent before delivery receipts.
func StatusFromProvider(providerStatus string) (DeliveryStatus, bool) {
	switch providerStatus {
	case "queued", "accepted", "sending", "sent":
		return DeliveryStatusSubmitted, true
	case "delivered", "read":
		return DeliveryStatusDelivered, true
	case "undelivered":
		return DeliveryStatusUndeliverable, true
	case "failed", "canceled":
		return DeliveryStatusFailed, true
	default:
		return "", false
	}
}

// DeliveryRecord is the ledger entry tracking one outbound message attempt.
// Exactly one record exists per idempotency key.
type DeliveryRecord struct {
	ID              int64          `db:"id"`
	IdempotencyKey  string         `db:"idempotency_key"`
	ProviderSID     *string        `db:"provider_sid"`
	SubjectID       string         `db:"subject_id"`
	ToPhone         string         `db:"to_phone"`
	Body            string         `db:"body"`
	RequestRef      string         `db:"request_ref"`
	CommunicationID *string        `db:"communication_id"`
	Status          DeliveryStatus `db:"status"`
	LastError       *string        `db:"last_error"`
	RetryCount      int            `db:"retry_count"`
	SubmittedAt     *time.Time     `db:"submitted_at"`
	TerminalAt      *time.Time     `db:"terminal_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}
