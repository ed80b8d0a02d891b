package otp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// GatewaySender posts messages to an external SMS/WhatsApp gateway as JSON
type GatewaySender struct {
	url    string
	apiKey string
	client *http.Client
}

// NewGatewaySender creates a sender for the configured gateway
func NewGatewaySender(url, apiKey string) *GatewaySender {
	return &GatewaySender{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// Send posts the message and fails on any non-2xx response
func (s *GatewaySender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("otp gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("otp gateway returned status %d", resp.StatusCode)
	}
	return nil
}
