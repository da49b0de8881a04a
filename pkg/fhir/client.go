package fhir

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "caresms/internal/errors"
)

// Client is the clinical record gateway contract consumed by the bridge.
// Every call is a bounded network operation against the FHIR store.
type Client interface {
	CreateCommunication(ctx context.Context, comm *Communication) (string, error)
	UpdateCommunicationStatus(ctx context.Context, id, status string) error
	GetCommunicationRequest(ctx context.Context, id string) (*CommunicationRequest, error)
	UpdateCommunicationRequest(ctx context.Context, cr *CommunicationRequest) error
	SearchDueCommunicationRequests(ctx context.Context, now time.Time) ([]*CommunicationRequest, error)
	FindPatientByPhone(ctx context.Context, phone string) (*Patient, error)
	GetPatient(ctx context.Context, id string) (*Patient, error)
}

// ClientConfig configures the HTTP client for the FHIR store.
type ClientConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// HAPIClient talks to a HAPI-style FHIR REST server.
type HAPIClient struct {
	config ClientConfig
	client *http.Client
}

func NewClient(config ClientConfig) *HAPIClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HAPIClient{
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

// CreateCommunication posts a new Communication resource and returns the
// server-assigned id.
func (c *HAPIClient) CreateCommunication(ctx context.Context, comm *Communication) (string, error) {
	comm.ResourceType = "Communication"
	var created Communication
	if err := c.do(ctx, http.MethodPost, "Communication", "", nil, comm, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", apperrors.NewClinicalStoreError("create Communication", 0,
			fmt.Errorf("store returned no resource id"))
	}
	return created.ID, nil
}

// UpdateCommunicationStatus performs a read-modify-write of the status field.
func (c *HAPIClient) UpdateCommunicationStatus(ctx context.Context, id, status string) error {
	var comm Communication
	if err := c.do(ctx, http.MethodGet, "Communication", id, nil, nil, &comm); err != nil {
		return err
	}
	comm.Status = status
	return c.do(ctx, http.MethodPut, "Communication", id, nil, &comm, nil)
}

func (c *HAPIClient) GetCommunicationRequest(ctx context.Context, id string) (*CommunicationRequest, error) {
	var cr CommunicationRequest
	if err := c.do(ctx, http.MethodGet, "CommunicationRequest", id, nil, nil, &cr); err != nil {
		return nil, err
	}
	return &cr, nil
}

func (c *HAPIClient) UpdateCommunicationRequest(ctx context.Context, cr *CommunicationRequest) error {
	if cr.ID == "" {
		return apperrors.NewValidationError("id", "communication request id is required")
	}
	cr.ResourceType = "CommunicationRequest"
	return c.do(ctx, http.MethodPut, "CommunicationRequest", cr.ID, nil, cr, nil)
}

// SearchDueCommunicationRequests returns active scheduled or manual send
// requests whose occurrence time has passed.
func (c *HAPIClient) SearchDueCommunicationRequests(ctx context.Context, now time.Time) ([]*CommunicationRequest, error) {
	params := url.Values{}
	params.Set("category", CodeScheduledMessage+","+CodeManualSentMessage)
	params.Set("status", StatusActive)
	params.Set("occurrence", "le"+now.Format(time.RFC3339))

	var bundle Bundle
	if err := c.do(ctx, http.MethodGet, "CommunicationRequest", "", params, nil, &bundle); err != nil {
		return nil, err
	}

	var requests []*CommunicationRequest
	for _, entry := range bundle.Entry {
		cr := &CommunicationRequest{}
		if err := json.Unmarshal(entry.Resource, cr); err != nil {
			return nil, apperrors.NewClinicalStoreError("search CommunicationRequest", 0,
				fmt.Errorf("failed to decode bundle entry: %w", err))
		}
		requests = append(requests, cr)
	}
	return requests, nil
}

// FindPatientByPhone searches for a patient by telecom value. Returns a
// NOT_FOUND error when the bundle is empty so callers can distinguish a true
// miss from an unreachable store.
func (c *HAPIClient) FindPatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	params := url.Values{}
	params.Set("telecom", phone)

	var bundle Bundle
	if err := c.do(ctx, http.MethodGet, "Patient", "", params, nil, &bundle); err != nil {
		return nil, err
	}
	if bundle.Total == 0 || len(bundle.Entry) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "no patient with this phone number").
			WithContext("phone", phone)
	}

	patient := &Patient{}
	if err := json.Unmarshal(bundle.Entry[0].Resource, patient); err != nil {
		return nil, apperrors.NewClinicalStoreError("search Patient", 0,
			fmt.Errorf("failed to decode bundle entry: %w", err))
	}
	return patient, nil
}

func (c *HAPIClient) GetPatient(ctx context.Context, id string) (*Patient, error) {
	var patient Patient
	if err := c.do(ctx, http.MethodGet, "Patient", id, nil, nil, &patient); err != nil {
		return nil, err
	}
	return &patient, nil
}

func (c *HAPIClient) do(ctx context.Context, method, resourceType, resourceID string, params url.Values, body, out interface{}) error {
	endpoint := c.config.BaseURL + "/" + resourceType
	if resourceID != "" {
		endpoint += "/" + url.PathEscape(resourceID)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to marshal resource")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to build request")
	}
	req.Header.Set("Accept", "application/fhir+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/fhir+json")
	}
	if c.config.Username != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}

	operation := method + " " + resourceType
	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.NewClinicalStoreError(operation, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return apperrors.New(apperrors.ErrCodeNotFound, fmt.Sprintf("%s not found", resourceType)).
			WithContext("id", resourceID)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperrors.NewClinicalStoreError(operation, resp.StatusCode,
			fmt.Errorf("store returned status %d: %s", resp.StatusCode, string(data)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.NewClinicalStoreError(operation, resp.StatusCode,
				fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return nil
}
