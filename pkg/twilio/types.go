package twilio

import (
	"context"
	"time"
)

// Message statuses reported by the provider
const (
	StatusQueued      = "queued"
	StatusAccepted    = "accepted"
	StatusSending     = "sending"
	StatusSent        = "sent"
	StatusDelivered   = "delivered"
	StatusUndelivered = "undelivered"
	StatusFailed      = "failed"
)

// Message is the provider's view of one SMS.
type Message struct {
	SID          string `json:"sid"`
	To           string `json:"to"`
	From         string `json:"from"`
	Body         string `json:"body"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	DateCreated  string `json:"date_created"`
	DateSent     string `json:"date_sent"`
}

// apiError is the provider's error response body.
type apiError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

// Client is the transport gateway contract consumed by the bridge.
type Client interface {
	SendMessage(ctx context.Context, to, body string) (*Message, error)
	GetMessage(ctx context.Context, sid string) (*Message, error)
}

// ClientConfig configures the HTTP client for the provider API.
type ClientConfig struct {
	AccountSID        string
	AuthToken         string
	FromPhone         string
	BaseURL           string
	StatusCallbackURL string
	Timeout           time.Duration
}
