package usertoken

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"ghazal/pkg/auth"
)

func TestNewVerifierRequiresJWKSURL(t *testing.T) {
	if _, err := NewVerifier(Config{}); err == nil {
		t.Fatalf("expected missing jwks url to fail")
	}
}

func TestVerifyReturnsPrincipalAndRefreshesOnUnknownKid(t *testing.T) {
	key1 := generateKey(t)
	key2 := generateKey(t)

	var mu sync.Mutex
	active := map[string]*rsa.PublicKey{"kid-1": &key1.PublicKey}
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Cache-Control", "public, max-age=60")
		_ = json.NewEncoder(w).Encode(auth.EncodeJWKS(active))
	}))
	defer jwks.Close()

	v, err := NewVerifier(Config{JWKSURL: jwks.URL})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	p, err := v.Verify(signToken(t, key1, "kid-1", "user-a", "admin", time.Now()))
	if err != nil || p.UserID != "user-a" || !p.IsAdmin() {
		t.Fatalf("verify token1: %+v err=%v", p, err)
	}

	mu.Lock()
	active = map[string]*rsa.PublicKey{"kid-2": &key2.PublicKey}
	mu.Unlock()
	p, err = v.Verify(signToken(t, key2, "kid-2", "user-b", "user", time.Now()))
	if err != nil || p.UserID != "user-b" || p.IsAdmin() {
		t.Fatalf("verify token2 after rotation: %+v err=%v", p, err)
	}
}

func TestVerifyRejectsFutureIssuedAtAndRevoked(t *testing.T) {
	key := generateKey(t)
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(auth.EncodeJWKS(map[string]*rsa.PublicKey{"kid-1": &key.PublicKey}))
	}))
	defer jwks.Close()

	revoked := revokedSet{"jti-user-1": true}
	v, err := NewVerifier(Config{JWKSURL: jwks.URL, Leeway: 5 * time.Second, Revoker: revoked})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if _, err := v.Verify(signToken(t, key, "kid-1", "user-2", "", time.Now().Add(2*time.Minute))); err == nil {
		t.Fatalf("expected future iat token to fail")
	}
	if _, err := v.Verify(signToken(t, key, "kid-1", "user-1", "", time.Now())); err != ErrRevoked {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestRequireMiddleware(t *testing.T) {
	key := generateKey(t)
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(auth.EncodeJWKS(map[string]*rsa.PublicKey{"kid-1": &key.PublicKey}))
	}))
	defer jwks.Close()
	v, err := NewVerifier(Config{JWKSURL: jwks.URL})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	h := Require(v, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok || p.UserID != "user-9" {
			t.Errorf("unexpected principal %+v", p)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, key, "kid-1", "user-9", "user", time.Now()))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestParseCacheMaxAge(t *testing.T) {
	if got := parseCacheMaxAge("public, max-age=120"); got != 2*time.Minute {
		t.Fatalf("unexpected max-age: %v", got)
	}
	if got := parseCacheMaxAge("no-store"); got != 0 {
		t.Fatalf("expected zero, got %v", got)
	}
}

type revokedSet map[string]bool

func (r revokedSet) IsRevoked(jti string) (bool, error) { return r[jti], nil }

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid, subject, role string, issuedAt time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    defaultIssuer,
			Audience:  jwt.ClaimStrings{defaultAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ID:        "jti-" + subject,
		},
		Role: role,
	})
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
