package store

import (
	"errors"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"ghazal/pkg/auth"
	"ghazal/pkg/domain"
)

func TestSessionRoundTripCarriesRole(t *testing.T) {
	s := newSessionStore(t, SessionConfig{KeyID: "kid-active"}, nil)

	token, expires, err := s.NewSession(domain.User{ID: "user-1", Role: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if !expires.After(time.Now()) {
		t.Fatalf("expected future expiry, got %v", expires)
	}
	claims, err := s.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: sub=%q role=%q", claims.Subject, claims.Role)
	}

	keys := s.JWKS().Keys
	if len(keys) != 1 || keys[0].Kid != "kid-active" {
		t.Fatalf("unexpected jwks: %+v", keys)
	}
	if keys[0].Kty != "RSA" || keys[0].Use != "sig" || keys[0].Alg != "RS256" || keys[0].N == "" || keys[0].E == "" {
		t.Fatalf("unexpected jwk fields: %+v", keys[0])
	}
}

func TestSessionEnforcesAudience(t *testing.T) {
	privatePath, publicPath := writeRSAKeyPairFiles(t)
	signing, err := NewJWTSessionStore(SessionConfig{PrivateKeyPath: privatePath, PublicKeyPath: publicPath, Audience: "aud-a"}, nil)
	if err != nil {
		t.Fatalf("signing store: %v", err)
	}
	verify, err := NewJWTSessionStore(SessionConfig{PrivateKeyPath: privatePath, PublicKeyPath: publicPath, Audience: "aud-b"}, nil)
	if err != nil {
		t.Fatalf("verify store: %v", err)
	}
	token, _, err := signing.NewSession(domain.User{ID: "user-aud"})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := verify.Verify(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected audience mismatch to fail, got %v", err)
	}
}

func TestSessionRevokeByJTI(t *testing.T) {
	s := newSessionStore(t, SessionConfig{}, NewMemoryTokenRevoker())
	token, _, err := s.NewSession(domain.User{ID: "user-revoke"})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.Revoke(token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := s.Verify(token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked token to fail, got %v", err)
	}
}

func TestSessionRevokeUserCutoff(t *testing.T) {
	s := newSessionStore(t, SessionConfig{}, NewMemoryTokenRevoker())
	issued := time.Now().UTC().Add(-time.Hour)
	s.now = func() time.Time { return issued }
	s.ttl = 2 * time.Hour
	oldToken, _, err := s.NewSession(domain.User{ID: "user-cutoff"})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.RevokeUser("user-cutoff", time.Now().UTC().Add(-time.Minute)); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if _, err := s.Verify(oldToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected old token to be revoked, got %v", err)
	}

	s.now = func() time.Time { return time.Now().UTC() }
	freshToken, _, err := s.NewSession(domain.User{ID: "user-cutoff"})
	if err != nil {
		t.Fatalf("fresh session: %v", err)
	}
	if _, err := s.Verify(freshToken); err != nil {
		t.Fatalf("expected fresh token to pass, got %v", err)
	}
}

func TestSessionVerifiesPreviousKeyDuringRotation(t *testing.T) {
	oldPrivate, oldPublic := writeRSAKeyPairFiles(t)
	newPrivate, newPublic := writeRSAKeyPairFiles(t)

	oldStore, err := NewJWTSessionStore(SessionConfig{PrivateKeyPath: oldPrivate, PublicKeyPath: oldPublic, KeyID: "kid-old"}, nil)
	if err != nil {
		t.Fatalf("old store: %v", err)
	}
	oldToken, _, err := oldStore.NewSession(domain.User{ID: "user-2"})
	if err != nil {
		t.Fatalf("old token: %v", err)
	}

	rotated, err := NewJWTSessionStore(SessionConfig{
		PrivateKeyPath: newPrivate,
		PublicKeyPath:  newPublic,
		KeyID:          "kid-new",
		VerifyKeyFiles: map[string]string{"kid-old": oldPublic},
	}, nil)
	if err != nil {
		t.Fatalf("rotated store: %v", err)
	}
	claims, err := rotated.Verify(oldToken)
	if err != nil || claims.Subject != "user-2" {
		t.Fatalf("verify old token: sub=%q err=%v", claims.Subject, err)
	}
	if keys := rotated.JWKS().Keys; len(keys) != 2 {
		t.Fatalf("expected 2 jwks entries, got %d", len(keys))
	}

	unrotated, err := NewJWTSessionStore(SessionConfig{PrivateKeyPath: newPrivate, PublicKeyPath: newPublic, KeyID: "kid-new"}, nil)
	if err != nil {
		t.Fatalf("unrotated store: %v", err)
	}
	if _, err := unrotated.Verify(oldToken); err == nil {
		t.Fatalf("expected unknown kid to fail")
	}
}

func TestSessionRejectsMissingClaims(t *testing.T) {
	privatePath, publicPath := writeRSAKeyPairFiles(t)
	s, err := NewJWTSessionStore(SessionConfig{PrivateKeyPath: privatePath, PublicKeyPath: publicPath, KeyID: "kid"}, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	key, err := auth.LoadRSAPrivateKey(privatePath)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	now := time.Now().UTC()
	base := jwt.RegisteredClaims{
		Subject:   "user-x",
		Issuer:    DefaultSessionIssuer,
		Audience:  jwt.ClaimStrings{DefaultSessionAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		ID:        "jti-x",
	}
	cases := map[string]func(*jwt.Token, *jwt.RegisteredClaims){
		"missing kid": func(tok *jwt.Token, _ *jwt.RegisteredClaims) { delete(tok.Header, "kid") },
		"missing jti": func(_ *jwt.Token, c *jwt.RegisteredClaims) { c.ID = "" },
		"future iat": func(_ *jwt.Token, c *jwt.RegisteredClaims) {
			c.IssuedAt = jwt.NewNumericDate(now.Add(5 * time.Minute))
		},
		"expired": func(_ *jwt.Token, c *jwt.RegisteredClaims) {
			c.ExpiresAt = jwt.NewNumericDate(now.Add(-5 * time.Minute))
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			claims := base
			tok := jwt.NewWithClaims(jwt.SigningMethodRS256, &claims)
			tok.Header["kid"] = "kid"
			mutate(tok, &claims)
			signed, err := tok.SignedString(key)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			if _, err := s.Verify(signed); err == nil {
				t.Fatalf("expected %s to fail", name)
			}
		})
	}
}

func writeRSAKeyPairFiles(t *testing.T) (string, string) {
	t.Helper()
	privatePath, publicPath, err := auth.WriteRSAKeyPair(t.TempDir(), 2048)
	if err != nil {
		t.Fatalf("write key pair: %v", err)
	}
	return privatePath, publicPath
}

func newSessionStore(t *testing.T, cfg SessionConfig, revoker TokenRevoker) *JWTSessionStore {
	t.Helper()
	cfg.PrivateKeyPath, cfg.PublicKeyPath = writeRSAKeyPairFiles(t)
	if cfg.TTL == 0 {
		cfg.TTL = time.Minute
	}
	s, err := NewJWTSessionStore(cfg, revoker)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	return s
}
