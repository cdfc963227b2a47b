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

	"ghazal/internal/util"
)

// Mailer hands transactional emails to the mailer function.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, p OrderConfirmation) error
	SendTransferNotice(ctx context.Context, n TransferNotice) error
}

// Publisher is the queue side QueueMailer needs; *mq.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload any) error
}

// QueueMailer publishes email jobs for the mailer's queue consumer.
type QueueMailer struct {
	pub Publisher
}

func NewQueueMailer(pub Publisher) *QueueMailer {
	return &QueueMailer{pub: pub}
}

func (m *QueueMailer) SendOrderConfirmation(ctx context.Context, p OrderConfirmation) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return m.pub.Publish(ctx, KindOrderConfirmation, p)
}

func (m *QueueMailer) SendTransferNotice(ctx context.Context, n TransferNotice) error {
	if err := n.Validate(); err != nil {
		return err
	}
	return m.pub.Publish(ctx, KindTransferNotice, n)
}

// TokenSource signs a service token for an audience; *servicetoken.Signer
// satisfies it.
type TokenSource interface {
	Sign(audience string) (string, error)
}

// HTTPMailer calls the mailer's HTTP endpoints with an internal service token.
type HTTPMailer struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// NewHTTPMailer builds a client for the mailer at baseURL.
func NewHTTPMailer(baseURL string, tokens TokenSource) (*HTTPMailer, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("mailer base url required")
	}
	if tokens == nil {
		return nil, errors.New("mailer token source required")
	}
	return &HTTPMailer{baseURL: baseURL, tokens: tokens, httpClient: &http.Client{Timeout: 10 * time.Second}}, nil
}

func (m *HTTPMailer) SendOrderConfirmation(ctx context.Context, p OrderConfirmation) error {
	return m.post(ctx, "/emails/order-confirmation", p)
}

func (m *HTTPMailer) SendTransferNotice(ctx context.Context, n TransferNotice) error {
	return m.post(ctx, "/emails/transfer-notice", n)
}

func (m *HTTPMailer) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token, err := m.tokens.Sign("mailer")
	if err != nil {
		return fmt.Errorf("sign mailer token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if rid := util.RequestIDFromContext(ctx); rid != "" {
		req.Header.Set("X-Request-Id", rid)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mailer request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("mailer %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}
