package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ghazal/internal/servicetoken"
	"ghazal/pkg/auth"
	"ghazal/pkg/email"
	"ghazal/services/mailer/internal/app"
)

type resendFake struct {
	mu       sync.Mutex
	requests []map[string]any
	keys     []string
	status   int
}

func (f *resendFake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.requests = append(f.requests, body)
	f.keys = append(f.keys, r.Header.Get("Idempotency-Key"))
	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"message":"provider says no"}`))
		return
	}
	_, _ = w.Write([]byte(`{"id":"re_abc"}`))
}

type testEnv struct {
	handler http.Handler
	resend  *resendFake
	signer  *servicetoken.Signer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	privatePath, publicPath, err := auth.WriteRSAKeyPair(t.TempDir(), 2048)
	if err != nil {
		t.Fatalf("write keys: %v", err)
	}
	signer, err := servicetoken.NewSigner(servicetoken.SignerOptions{PrivateKeyPath: privatePath, Issuer: "api", TTL: time.Minute})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	verifier, err := servicetoken.NewVerifier(servicetoken.VerifierOptions{
		PublicKeyPath:  publicPath,
		Audience:       "mailer",
		AllowedIssuers: []string{"api"},
	})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	fake := &resendFake{}
	provider := httptest.NewServer(fake)
	t.Cleanup(provider.Close)
	sender, err := email.NewResendClient(email.ResendConfig{BaseURL: provider.URL, APIKey: "re_test", From: "books@ghazal.example"})
	if err != nil {
		t.Fatalf("resend client: %v", err)
	}
	core, err := app.New(sender)
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	srv, err := New(Config{App: core, TokenVerifier: verifier})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return &testEnv{handler: srv.Router(), resend: fake, signer: signer}
}

func (e *testEnv) post(t *testing.T, path, audience, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", "req-42")
	if audience != "" {
		tok, err := e.signer.Sign(audience)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

const transferBody = `{"to":"friend@example.com","senderEmail":"reader@example.com","amount":"10","completedAt":"2026-03-01T10:00:00Z"}`

func TestTransferNoticeSendsThroughResend(t *testing.T) {
	env := newTestEnv(t)
	rec := env.post(t, "/emails/transfer-notice", "mailer", transferBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp sentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.ID != "re_abc" {
		t.Fatalf("response = %s (%v)", rec.Body.String(), err)
	}
	if len(env.resend.requests) != 1 {
		t.Fatalf("provider calls = %d", len(env.resend.requests))
	}
	got := env.resend.requests[0]
	if got["from"] != "books@ghazal.example" || got["subject"] != "You received 10.00" {
		t.Fatalf("unexpected provider request: %+v", got)
	}
	if env.resend.keys[0] != "req-42" {
		t.Fatalf("idempotency key = %q", env.resend.keys[0])
	}
}

func TestEmailEndpointsRejectBadRequests(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name     string
		path     string
		audience string
		body     string
		status   int
		code     string
	}{
		{"no token", "/emails/transfer-notice", "", transferBody, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong audience", "/emails/transfer-notice", "audiobook", transferBody, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"bad json", "/emails/order-confirmation", "mailer", `{"to":`, http.StatusBadRequest, "REQUEST_INVALID_JSON"},
		{"unknown field", "/emails/order-confirmation", "mailer", `{"bcc":"x@example.com"}`, http.StatusBadRequest, "REQUEST_INVALID_JSON"},
		{"no items", "/emails/order-confirmation", "mailer", `{"to":"reader@example.com","orderId":"o-1","items":[]}`, http.StatusBadRequest, "EMAIL_INVALID_PAYLOAD"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.post(t, tc.path, tc.audience, tc.body)
			var resp errorResponse
			_ = json.Unmarshal(rec.Body.Bytes(), &resp)
			if rec.Code != tc.status || resp.Code != tc.code {
				t.Fatalf("got %d %s", rec.Code, rec.Body.String())
			}
		})
	}
	if len(env.resend.requests) != 0 {
		t.Fatalf("provider should not be called, got %d", len(env.resend.requests))
	}
}

func TestProviderFailuresMapToStatus(t *testing.T) {
	env := newTestEnv(t)
	env.resend.status = http.StatusUnprocessableEntity
	if rec := env.post(t, "/emails/transfer-notice", "mailer", transferBody); rec.Code != http.StatusBadGateway {
		t.Fatalf("rejected status = %d", rec.Code)
	}
	env.resend.status = http.StatusInternalServerError
	if rec := env.post(t, "/emails/transfer-notice", "mailer", transferBody); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unavailable status = %d", rec.Code)
	}
}
