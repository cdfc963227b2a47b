package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func sampleOrder() OrderConfirmation {
	return OrderConfirmation{
		To:           "reader@example.com",
		CustomerName: "Layla <script>",
		OrderID:      "0f9c2a7e-1111-2222-3333-444455556666",
		Items: []OrderLine{
			{Title: "The Conference of the Birds", Quantity: 2, UnitPrice: decimal.RequireFromString("12.50")},
			{Title: "Divan (ebook)", Quantity: 1, UnitPrice: decimal.RequireFromString("4.99")},
		},
		Total:         decimal.RequireFromString("29.99"),
		PaymentMethod: "wallet",
		PlacedAt:      time.Date(2026, 5, 2, 10, 30, 0, 0, time.UTC),
	}
}

func TestRenderOrderConfirmation(t *testing.T) {
	out, err := RenderOrderConfirmation(sampleOrder())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out.Subject != "Your Ghazal Library order 0f9c2a7e" {
		t.Fatalf("unexpected subject %q", out.Subject)
	}
	for _, want := range []string{"25.00", "29.99", "Wallet", "2 May 2026", "Layla &lt;script&gt;"} {
		if !strings.Contains(out.HTML, want) {
			t.Fatalf("expected %q in body:\n%s", want, out.HTML)
		}
	}
	if strings.Contains(out.HTML, "<script>") {
		t.Fatalf("customer name must be escaped")
	}
}

func TestPayloadValidation(t *testing.T) {
	bad := sampleOrder()
	bad.To = "not-an-address"
	if _, err := RenderOrderConfirmation(bad); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	bad = sampleOrder()
	bad.Items = nil
	if err := bad.Validate(); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected empty items to fail, got %v", err)
	}
	if err := (TransferNotice{To: "a@example.com", Amount: decimal.Zero}).Validate(); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected zero amount to fail, got %v", err)
	}
}

func TestRenderTransferNotice(t *testing.T) {
	out, err := RenderTransferNotice(TransferNotice{
		To:          "friend@example.com",
		SenderEmail: "layla@example.com",
		Amount:      decimal.RequireFromString("15"),
		Note:        "for the book club",
		CompletedAt: time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out.Subject != "You received 15.00" || !strings.Contains(out.HTML, "layla@example.com sent you 15.00") || !strings.Contains(out.HTML, "for the book club") {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestResendClientSend(t *testing.T) {
	var got resendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emails" || r.Header.Get("Authorization") != "Bearer re_test" {
			t.Errorf("unexpected request %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		if r.Header.Get("Idempotency-Key") != "order-1" {
			t.Errorf("missing idempotency key")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"email_123"}`))
	}))
	defer srv.Close()

	c, err := NewResendClient(ResendConfig{BaseURL: srv.URL, APIKey: "re_test", From: "Ghazal <shop@ghazal.example>"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	id, err := c.Send(context.Background(), Message{To: "reader@example.com", Subject: "Hi", HTML: "<p>x</p>", IdempotencyKey: "order-1"})
	if err != nil || id != "email_123" {
		t.Fatalf("send: id=%q err=%v", id, err)
	}
	if got.From != "Ghazal <shop@ghazal.example>" || len(got.To) != 1 || got.To[0] != "reader@example.com" {
		t.Fatalf("unexpected body: %+v", got)
	}
}

func TestResendClientErrors(t *testing.T) {
	status := http.StatusUnprocessableEntity
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"message":"invalid from"}`))
	}))
	defer srv.Close()
	c, _ := NewResendClient(ResendConfig{BaseURL: srv.URL, APIKey: "k", From: "a@example.com"})

	_, err := c.Send(context.Background(), Message{To: "b@example.com"})
	var sendErr *SendError
	if !errors.As(err, &sendErr) || sendErr.Retryable() || sendErr.Message != "invalid from" {
		t.Fatalf("expected permanent SendError, got %v", err)
	}
	status = http.StatusServiceUnavailable
	_, err = c.Send(context.Background(), Message{To: "b@example.com"})
	if !errors.As(err, &sendErr) || !sendErr.Retryable() {
		t.Fatalf("expected retryable SendError, got %v", err)
	}
}

type recordingPublisher struct {
	kinds    []string
	payloads []any
}

func (p *recordingPublisher) Publish(_ context.Context, kind string, payload any) error {
	p.kinds = append(p.kinds, kind)
	p.payloads = append(p.payloads, payload)
	return nil
}

func TestQueueMailerPublishesValidatedJobs(t *testing.T) {
	pub := &recordingPublisher{}
	m := NewQueueMailer(pub)
	if err := m.SendOrderConfirmation(context.Background(), sampleOrder()); err != nil {
		t.Fatalf("send order: %v", err)
	}
	if err := m.SendTransferNotice(context.Background(), TransferNotice{To: "x"}); err == nil {
		t.Fatalf("expected invalid notice to be rejected before publishing")
	}
	if len(pub.kinds) != 1 || pub.kinds[0] != KindOrderConfirmation {
		t.Fatalf("unexpected published kinds: %v", pub.kinds)
	}
}

type staticTokens string

func (s staticTokens) Sign(audience string) (string, error) { return string(s) + ":" + audience, nil }

func TestHTTPMailerPostsWithServiceToken(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody TransferNotice
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth, gotPath = r.Header.Get("Authorization"), r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m, err := NewHTTPMailer(srv.URL, staticTokens("tok"))
	if err != nil {
		t.Fatalf("new http mailer: %v", err)
	}
	n := TransferNotice{To: "friend@example.com", Amount: decimal.RequireFromString("3.5")}
	if err := m.SendTransferNotice(context.Background(), n); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAuth != "Bearer tok:mailer" || gotPath != "/emails/transfer-notice" || !gotBody.Amount.Equal(n.Amount) {
		t.Fatalf("unexpected request auth=%q path=%q body=%+v", gotAuth, gotPath, gotBody)
	}
}
