package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ensure ResendSender implements Sender
var _ Sender = (*ResendSender)(nil)

// ResendConfig holds the configuration for the HTTP send API.
type ResendConfig struct {
	APIKey        string
	BaseURL       string
	SenderAddress string
	SenderName    string
	Timeout       time.Duration
}

// ResendSender implements Sender against the Resend transactional API.
type ResendSender struct {
	cfg  ResendConfig
	http *http.Client
}

// NewResendSender creates a new ResendSender.
func NewResendSender(cfg ResendConfig) (*ResendSender, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("resend: api key is required")
	}
	if cfg.SenderAddress == "" {
		return nil, fmt.Errorf("resend: sender address is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.resend.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &ResendSender{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

// HTTPClient exposes the underlying client so tests can intercept it.
func (s *ResendSender) HTTPClient() *http.Client {
	return s.http
}

type resendTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type resendEmail struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Tags    []resendTag       `json:"tags,omitempty"`
}

type resendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Name    string `json:"name"`
}

// Send posts msg to /emails and returns the gateway message ID.
func (s *ResendSender) Send(ctx context.Context, msg Message) (string, error) {
	from := FormatAddress(s.cfg.SenderName, s.cfg.SenderAddress)

	payload := resendEmail{
		From:    from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTMLBody,
		Text:    msg.TextBody,
		Headers: msg.Headers,
	}
	for name, value := range msg.Tags {
		payload.Tags = append(payload.Tags, resendTag{Name: name, Value: value})
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("resend: failed to encode payload: %w", err)
	}

	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/emails"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("resend: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("resend: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("resend: failed to read response: %w", err)
	}

	var out resendResponse
	_ = json.Unmarshal(body, &out)

	if resp.StatusCode >= 300 {
		detail := out.Message
		if detail == "" {
			detail = strings.TrimSpace(string(body))
		}
		return "", fmt.Errorf("resend: send failed: %s: %s", resp.Status, detail)
	}
	if out.ID == "" {
		return "", fmt.Errorf("resend: response did not include a message id")
	}

	return out.ID, nil
}
