package models

import "time"

// OutboundMessageIntent is a request to send a clinical message to a subject.
// The idempotency key is the originating CommunicationRequest identifier.
type OutboundMessageIntent struct {
	IdempotencyKey string
	SubjectID      string
	Body           string
	Requester      string
	Priority       string
	RequestRef     string
	Manual         bool
}

// InboundEvent kinds
const (
	EventKindReply  = "reply"
	EventKindStatus = "status"
)

// InboundEvent is the normalized form of a provider webhook. An event whose
// processing fails is persisted to the inbound backlog for replay.
type InboundEvent struct {
	Kind           string
	FromPhone      string
	Body           string
	ProviderSID    string
	ProviderStatus string
	Timestamp      time.Time
}

type ProcessingOutcome string

const (
	OutcomeRecorded         ProcessingOutcome = "recorded"
	OutcomeQuarantined      ProcessingOutcome = "quarantined"
	OutcomeUpdated          ProcessingOutcome = "updated"
	OutcomeIgnoredStale     ProcessingOutcome = "ignored-stale"
	OutcomeUnknownReference ProcessingOutcome = "unknown-reference"
)

// InboundBacklogEntry is a persisted inbound event whose first processing
// attempt failed. The reconcile pass replays unprocessed entries.
type InboundBacklogEntry struct {
	ID           int64
	Event        InboundEvent
	Reason       string
	AttemptCount int
}

// ReconciliationReport summarizes one reconcile pass over the ledger.
type ReconciliationReport struct {
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	Checked     int       `json:"checked"`
	Updated     int       `json:"updated"`
	Repaired    int       `json:"repaired"`
	Errors      []string  `json:"errors,omitempty"`
}

// ExecutionReport summarizes one sweep of due communication requests.
type ExecutionReport struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
}
