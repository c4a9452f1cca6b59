package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// PortalClient talks to one government scheme portal.
type PortalClient struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewPortalClient(name, baseURL, apiKey string) *PortalClient {
	return &PortalClient{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *PortalClient) Name() string {
	return c.name
}

type SubmitRequest struct {
	ApplicationID string         `json:"applicationId"`
	ArtisanID     string         `json:"artisanId"`
	SchemeID      string         `json:"schemeId"`
	FormData      map[string]any `json:"formData"`
}

type submitResponse struct {
	ReferenceID string `json:"referenceId"`
}

// PortalStatus is what a portal reports for one application.
type PortalStatus struct {
	Status    string     `json:"status"`
	Note      string     `json:"note,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func (c *PortalClient) Submit(ctx context.Context, in SubmitRequest) (string, error) {
	reqBody, err := json.Marshal(in)
	if err != nil {
		return "", err
	}

	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/applications", reqBody)
	if err != nil {
		return "", err
	}

	var sr submitResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if sr.ReferenceID == "" {
		return "", fmt.Errorf("missing referenceId in response body=%q", string(body))
	}

	return sr.ReferenceID, nil
}

func (c *PortalClient) FetchStatus(ctx context.Context, reference string) (*PortalStatus, error) {
	body, err := c.do(ctx, http.MethodGet, c.baseURL+"/applications/"+url.PathEscape(reference)+"/status", nil)
	if err != nil {
		return nil, err
	}

	var ps PortalStatus
	if err := json.Unmarshal(body, &ps); err != nil {
		return nil, fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if ps.Status == "" {
		return nil, fmt.Errorf("missing status in response body=%q", string(body))
	}

	return &ps, nil
}

func (c *PortalClient) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("portal %s: unexpected status code: %d body=%q", c.name, resp.StatusCode, string(body))
	}

	return body, nil
}
