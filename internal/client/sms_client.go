package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SMSClient delivers OTP messages through an HTTP SMS gateway.
type SMSClient struct {
	url      string
	apiKey   string
	senderID string
	client   *http.Client
}

func NewSMSClient(url, apiKey, senderID string) *SMSClient {
	return &SMSClient{
		url:      url,
		apiKey:   apiKey,
		senderID: senderID,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type smsRequest struct {
	To      string `json:"to"`
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

func (c *SMSClient) Send(ctx context.Context, phone, message string) error {
	reqBody, err := json.Marshal(smsRequest{
		To:      "+91" + phone,
		Sender:  c.senderID,
		Message: message,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	return nil
}
