package twilio

import (
	"net/url"
	"time"

	"caresms/internal/errors"
	"caresms/internal/models"
)

// ParseInboundForm normalizes an incoming-SMS webhook form into an
// InboundEvent. The payload is untrusted; missing fields are rejected here
// so malformed requests never reach the bridge.
func ParseInboundForm(form url.Values) (*models.InboundEvent, error) {
	sid := form.Get("MessageSid")
	if sid == "" {
		sid = form.Get("SmsSid")
	}
	from := form.Get("From")
	body := form.Get("Body")

	if from == "" {
		return nil, errors.NewValidationError("From", "inbound webhook missing sender phone")
	}
	if body == "" {
		return nil, errors.NewValidationError("Body", "inbound webhook missing message body")
	}

	return &models.InboundEvent{
		Kind:        models.EventKindReply,
		FromPhone:   from,
		Body:        body,
		ProviderSID: sid,
		Timestamp:   time.Now(),
	}, nil
}

// ParseStatusForm normalizes a delivery-status webhook form into an
// InboundEvent.
func ParseStatusForm(form url.Values) (*models.InboundEvent, error) {
	sid := form.Get("MessageSid")
	if sid == "" {
		sid = form.Get("SmsSid")
	}
	status := form.Get("MessageStatus")

	if sid == "" {
		return nil, errors.NewValidationError("MessageSid", "status webhook missing message sid")
	}
	if status == "" {
		return nil, errors.NewValidationError("MessageStatus", "status webhook missing message status")
	}

	return &models.InboundEvent{
		Kind:           models.EventKindStatus,
		ProviderSID:    sid,
		ProviderStatus: status,
		Timestamp:      time.Now(),
	}, nil
}
