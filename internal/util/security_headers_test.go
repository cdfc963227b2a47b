package util

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func noContent() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestSecurityHeadersOnEveryResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	WithSecurityHeaders(noContent()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog/products", nil))

	want := map[string]string{
		"X-Content-Type-Options":       "nosniff",
		"X-Frame-Options":              "DENY",
		"Referrer-Policy":              "no-referrer",
		"Cross-Origin-Resource-Policy": "same-site",
	}
	for header, value := range want {
		if got := rec.Header().Get(header); got != value {
			t.Errorf("%s = %q, want %q", header, got, value)
		}
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Error("missing Content-Security-Policy")
	}
}

func TestSecurityHeadersHSTS(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*http.Request)
		want  bool
	}{
		{name: "plain http", setup: func(*http.Request) {}, want: false},
		{name: "proxy says https", setup: func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", " HTTPS ") }, want: true},
		{name: "proxy says http", setup: func(r *http.Request) { r.Header.Set("X-Forwarded-Proto", "http") }, want: false},
		{name: "direct tls", setup: func(r *http.Request) { r.TLS = &tls.ConnectionState{} }, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			WithSecurityHeaders(noContent()).ServeHTTP(rec, req)
			if got := rec.Header().Get("Strict-Transport-Security") != ""; got != tc.want {
				t.Fatalf("hsts present = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCORSPreflightAndForeignOrigin(t *testing.T) {
	h := WithCORS([]string{"https://library.example/"}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	pre := httptest.NewRequest(http.MethodOptions, "/orders", nil)
	pre.Header.Set("Origin", "https://library.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, pre)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://library.example" {
		t.Fatalf("allow origin = %q", got)
	}

	foreign := httptest.NewRequest(http.MethodGet, "/orders", nil)
	foreign.Header.Set("Origin", "https://elsewhere.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, foreign)
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign origin: status %d allow %q", rec.Code, rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
