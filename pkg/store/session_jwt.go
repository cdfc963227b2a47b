package store

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"ghazal/pkg/auth"
	"ghazal/pkg/domain"
)

const (
	DefaultSessionIssuer   = "ghazal-api"
	DefaultSessionAudience = "ghazal-app"
	defaultSessionKeyID    = "session-active"
)

var (
	defaultSessionLeeway = 30 * time.Second

	ErrTokenRevoked = errors.New("token revoked")
	ErrTokenInvalid = errors.New("invalid token")
)

// SessionConfig configures RS256 session tokens.
type SessionConfig struct {
	PrivateKeyPath string
	PublicKeyPath  string
	KeyID          string
	// VerifyKeyFiles maps kid -> public key path for keys that are rotating out.
	VerifyKeyFiles map[string]string
	TTL            time.Duration
	Issuer         string
	Audience       string
	Leeway         time.Duration
}

// SessionClaims are the claims carried by a user access token.
type SessionClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// JWTSessionStore issues and validates user access tokens (RS256 with kid/JWKS).
type JWTSessionStore struct {
	ttl     time.Duration
	revoker TokenRevoker

	signer    *rsa.PrivateKey
	signerKid string
	verifiers map[string]*rsa.PublicKey

	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewJWTSessionStore loads PEM keys and builds a session store.
func NewJWTSessionStore(cfg SessionConfig, revoker TokenRevoker) (*JWTSessionStore, error) {
	privateKey, err := auth.LoadRSAPrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load session private key: %w", err)
	}
	keyID := strings.TrimSpace(cfg.KeyID)
	if keyID == "" {
		keyID = defaultSessionKeyID
	}
	verifiers := map[string]*rsa.PublicKey{keyID: &privateKey.PublicKey}
	if path := strings.TrimSpace(cfg.PublicKeyPath); path != "" {
		pub, err := auth.LoadRSAPublicKey(path)
		if err != nil {
			return nil, fmt.Errorf("load session public key: %w", err)
		}
		verifiers[keyID] = pub
	}
	rotating, err := auth.LoadRSAPublicKeys(cfg.VerifyKeyFiles)
	if err != nil {
		return nil, err
	}
	for kid, pub := range rotating {
		verifiers[kid] = pub
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = DefaultSessionIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = DefaultSessionAudience
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultSessionLeeway
	}
	return &JWTSessionStore{
		ttl:       ttl,
		revoker:   revoker,
		signer:    privateKey,
		signerKid: keyID,
		verifiers: verifiers,
		issuer:    issuer,
		audience:  audience,
		leeway:    leeway,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// NewSession signs an access token for the user and returns it with its expiry.
func (s *JWTSessionStore) NewSession(user domain.User) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        auth.RandomHexID(12),
		},
		Role: string(user.Role),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.signerKid
	signed, err := token.SignedString(s.signer)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Verify validates signature, claims and revocation state.
func (s *JWTSessionStore) Verify(token string) (SessionClaims, error) {
	claims, err := s.parse(token)
	if err != nil {
		return claims, err
	}
	if s.revoker == nil {
		return claims, nil
	}
	revoked, err := s.revoker.IsRevoked(claims.ID)
	if err != nil {
		return claims, err
	}
	if revoked {
		return claims, ErrTokenRevoked
	}
	cutoff, err := s.revoker.RevokedAfter(claims.Subject)
	if err != nil {
		return claims, err
	}
	// iat has second precision; tokens from the cutoff's own second stay valid.
	if !cutoff.IsZero() && claims.IssuedAt.Time.Before(cutoff.Truncate(time.Second)) {
		return claims, ErrTokenRevoked
	}
	return claims, nil
}

// Revoke invalidates the token's jti until it expires. Invalid tokens are ignored.
func (s *JWTSessionStore) Revoke(token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parse(token)
	if err != nil {
		return nil
	}
	return s.revoker.Revoke(claims.ID, claims.ExpiresAt.Time.Sub(s.now()))
}

// RevokeUser invalidates every token of the user issued at or before at,
// forcing a fresh login after role or status changes.
func (s *JWTSessionStore) RevokeUser(userID string, at time.Time) error {
	if s.revoker == nil {
		return nil
	}
	return s.revoker.RevokeUser(userID, at)
}

// JWKS returns the verification keys ordered by kid.
func (s *JWTSessionStore) JWKS() auth.JWKSet {
	return auth.EncodeJWKS(s.verifiers)
}

func (s *JWTSessionStore) parse(token string) (SessionClaims, error) {
	claims := SessionClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		pub, ok := s.verifiers[strings.TrimSpace(kid)]
		if !ok {
			return nil, errors.New("unknown token key")
		}
		return pub, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
	)
	if err != nil {
		return claims, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return claims, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.ID) == "" || strings.TrimSpace(claims.Subject) == "" || claims.IssuedAt == nil {
		return claims, fmt.Errorf("%w: missing jti, sub or iat", ErrTokenInvalid)
	}
	return claims, nil
}
