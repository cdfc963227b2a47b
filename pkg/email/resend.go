package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultResendURL = "https://api.resend.com"

// Message is an outgoing email.
type Message struct {
	To      string
	Subject string
	HTML    string
	// IdempotencyKey lets the provider drop duplicate deliveries.
	IdempotencyKey string
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// ResendConfig configures ResendClient.
type ResendConfig struct {
	BaseURL string
	APIKey  string
	From    string
	Timeout time.Duration
}

// ResendClient sends through the Resend POST /emails API.
type ResendClient struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
}

// NewResendClient builds a client; From is the verified sender address.
func NewResendClient(cfg ResendConfig) (*ResendClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("resend api key required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("resend from address required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultResendURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ResendClient{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		from:       strings.TrimSpace(cfg.From),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// SendError is a non-2xx answer from Resend.
type SendError struct {
	StatusCode int
	Message    string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("resend: status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the failure may succeed on a later attempt.
func (e *SendError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Send posts the message and returns the provider id.
func (c *ResendClient) Send(ctx context.Context, msg Message) (string, error) {
	body, err := json.Marshal(resendRequest{
		From:    c.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if msg.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", msg.IdempotencyKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("resend request: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		var errBody struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &errBody)
		if errBody.Message == "" {
			errBody.Message = http.StatusText(resp.StatusCode)
		}
		return "", &SendError{StatusCode: resp.StatusCode, Message: errBody.Message}
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode resend response: %w", err)
	}
	return out.ID, nil
}
