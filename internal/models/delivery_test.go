package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeliveryStatusRank(t *testing.T) {
	assert.Equal(t, 0, DeliveryStatusPending.Rank())
	assert.Equal(t, 1, DeliveryStatusSubmitted.Rank())
	assert.Equal(t, 2, DeliveryStatusDelivered.Rank())
	assert.Equal(t, 2, DeliveryStatusUndeliverable.Rank())
	assert.Equal(t, 2, DeliveryStatusFailed.Rank())
	assert.Equal(t, -1, DeliveryStatus("bogus").Rank())
}

func TestDeliveryStatusIsTerminal(t *testing.T) {
	assert.True(t, DeliveryStatusDelivered.IsTerminal())
	assert.True(t, DeliveryStatusUndeliverable.IsTerminal())
	assert.False(t, DeliveryStatusFailed.IsTerminal(), "failed records remain retryable")
	assert.False(t, DeliveryStatusPending.IsTerminal())
	assert.False(t, DeliveryStatusSubmitted.IsTerminal())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from DeliveryStatus
		to   DeliveryStatus
		want bool
	}{
		{"pending to submitted", DeliveryStatusPending, DeliveryStatusSubmitted, true},
		{"pending to failed", DeliveryStatusPending, DeliveryStatusFailed, true},
		{"pending to delivered skips submitted", DeliveryStatusPending, DeliveryStatusDelivered, false},
		{"submitted to delivered", DeliveryStatusSubmitted, DeliveryStatusDelivered, true},
		{"submitted to undeliverable", DeliveryStatusSubmitted, DeliveryStatusUndeliverable, true},
		{"submitted to failed", DeliveryStatusSubmitted, DeliveryStatusFailed, true},
		{"submitted back to pending", DeliveryStatusSubmitted, DeliveryStatusPending, false},
		{"failed re-armed to pending", DeliveryStatusFailed, DeliveryStatusPending, true},
		{"failed to submitted directly", DeliveryStatusFailed, DeliveryStatusSubmitted, false},
		{"delivered is final", DeliveryStatusDelivered, DeliveryStatusSubmitted, false},
		{"undeliverable is final", DeliveryStatusUndeliverable, DeliveryStatusPending, false},
		{"same state is idempotent", DeliveryStatusDelivered, DeliveryStatusDelivered, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatusFromProvider(t *testing.T) {
	tests := []struct {
		provider string
		want     DeliveryStatus
		known    bool
	}{
		{"queued", DeliveryStatusSubmitted, true},
		{"accepted", DeliveryStatusSubmitted, true},
		{"sending", DeliveryStatusSubmitted, true},
		{"sent", DeliveryStatusSubmitted, true},
		{"delivered", DeliveryStatusDelivered, true},
		{"read", DeliveryStatusDelivered, true},
		{"undelivered", DeliveryStatusUndeliverable, true},
		{"failed", DeliveryStatusFailed, true},
		{"canceled", DeliveryStatusFailed, true},
		{"warbling", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			got, ok := StatusFromProvider(tt.provider)
			assert.Equal(t, tt.known, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
