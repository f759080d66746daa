package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"startline/internal/domain"
)

// RegistrationStatus is the outcome of one registration attempt
type RegistrationStatus string

const (
	RegistrationOK                = RegistrationStatus("ok")
	RegistrationAlreadyRegistered = RegistrationStatus("already_registered")
	RegistrationRaceFull          = RegistrationStatus("race_full")
	RegistrationClosed            = RegistrationStatus("registration_closed")
)

// RegistrationRequest is one participant registration sent to the
// registration backend
type RegistrationRequest struct {
	// IdempotencyKey makes retries of the same cart item safe
	IdempotencyKey string             `json:"idempotency_key"`
	RaceID         string             `json:"race_id"`
	LicenseTypeID  string             `json:"license_type_id"`
	Participant    domain.Participant `json:"participant"`
	PaidCents      int64              `json:"paid_cents"`
	Currency       string             `json:"currency"`
}

// RegistrationResult is the backend's answer for one registration
type RegistrationResult struct {
	Status         RegistrationStatus `json:"status"`
	RegistrationID string             `json:"registration_id,omitempty"`
	BibNumber      string             `json:"bib_number,omitempty"`
}

// RegistrationClient submits confirmed registrations to the registration
// backend. Register must be idempotent on IdempotencyKey.
type RegistrationClient interface {
	Register(ctx context.Context, req *RegistrationRequest) (*RegistrationResult, error)
}

// HTTPRegistrationClient talks to the registration backend over HTTP
type HTTPRegistrationClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPRegistrationClient creates a new HTTP registration client
func NewHTTPRegistrationClient(baseURL string, timeout time.Duration) *HTTPRegistrationClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRegistrationClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Register submits one registration. Non-2xx statuses with a parseable body
// are mapped to typed results; transport failures come back as errors so the
// caller can retry.
func (c *HTTPRegistrationClient) Register(ctx context.Context, regReq *RegistrationRequest) (*RegistrationResult, error) {
	url := fmt.Sprintf("%s/api/v1/registrations", c.baseURL)

	body, err := json.Marshal(regReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", regReq.IdempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to submit registration: %w", err)
	}
	defer resp.Body.Close()

	// Backend returns { success: bool, data: RegistrationResult }
	var response struct {
		Success bool               `json:"success"`
		Data    RegistrationResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		if response.Data.Status == "" {
			response.Data.Status = RegistrationOK
		}
		return &response.Data, nil
	case http.StatusConflict:
		// Conflict carries a typed status: duplicate or out of capacity
		if response.Data.Status == "" {
			response.Data.Status = RegistrationAlreadyRegistered
		}
		return &response.Data, nil
	case http.StatusUnprocessableEntity:
		if response.Data.Status == "" {
			response.Data.Status = RegistrationClosed
		}
		return &response.Data, nil
	default:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
}

var _ RegistrationClient = (*HTTPRegistrationClient)(nil)
