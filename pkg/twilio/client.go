package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "caresms/internal/errors"
)

const defaultBaseURL = "https://api.twilio.com"

// TwilioClient talks to the provider's Messages API. All calls carry a
// bounded timeout through the underlying http.Client.
type TwilioClient struct {
	config ClientConfig
	client *http.Client
}

func NewClient(config ClientConfig) *TwilioClient {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TwilioClient{
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

// SendMessage submits an outbound SMS. The provider either accepts it with a
// queued/sent status or rejects it outright; anything else is a transport
// error for the caller to record.
func (c *TwilioClient) SendMessage(ctx context.Context, to, body string) (*Message, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.config.FromPhone)
	form.Set("Body", body)
	if c.config.StatusCallbackURL != "" {
		form.Set("StatusCallback", c.config.StatusCallbackURL)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.config.BaseURL, c.config.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to build send request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.config.AccountSID, c.config.AuthToken)

	msg, err := c.doMessage(req, "send")
	if err != nil {
		return nil, err
	}

	switch msg.Status {
	case StatusQueued, StatusAccepted, StatusSending, StatusSent:
		return msg, nil
	default:
		return msg, apperrors.NewTransportError("send", http.StatusOK,
			fmt.Errorf("message %s has status %q at creation", msg.SID, msg.Status))
	}
}

// GetMessage fetches the provider's current view of a message, used by the
// reconcile pass for records stuck without a delivery receipt.
func (c *TwilioClient) GetMessage(ctx context.Context, sid string) (*Message, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages/%s.json", c.config.BaseURL, c.config.AccountSID, url.PathEscape(sid))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to build fetch request")
	}
	req.SetBasicAuth(c.config.AccountSID, c.config.AuthToken)

	return c.doMessage(req, "fetch")
}

func (c *TwilioClient) doMessage(req *http.Request, operation string) (*Message, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.NewTransportError(operation, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperrors.NewTransportError(operation, resp.StatusCode, err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return nil, apperrors.NewTransportError(operation, resp.StatusCode,
				fmt.Errorf("provider error %d: %s", apiErr.Code, apiErr.Message))
		}
		return nil, apperrors.NewTransportError(operation, resp.StatusCode,
			fmt.Errorf("provider returned status %d", resp.StatusCode))
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, apperrors.NewTransportError(operation, resp.StatusCode,
			fmt.Errorf("failed to decode response: %w", err))
	}
	return &msg, nil
}
