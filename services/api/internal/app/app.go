package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ghazal/pkg/auth"
	"ghazal/pkg/domain"
	"ghazal/pkg/email"
	"ghazal/pkg/storage"
	"ghazal/pkg/store"
	"ghazal/services/api/internal/metrics"
)

const (
	defaultDownloadURLTTL = 15 * time.Minute
	defaultCoverURLTTL    = time.Hour
)

// SessionStore issues and checks user access tokens.
type SessionStore interface {
	NewSession(user domain.User) (string, time.Time, error)
	Verify(token string) (store.SessionClaims, error)
	Revoke(token string) error
	RevokeUser(userID string, at time.Time) error
	JWKS() auth.JWKSet
}

// Publisher pushes a stored notification to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, n domain.Notification) error
}

// Config holds runtime configuration for the storefront application.
type Config struct {
	DatabaseURL    string
	Store          store.Store
	Sessions       SessionStore
	Objects        storage.ObjectStore
	Mailer         email.Mailer
	Realtime       Publisher
	Metrics        *metrics.Metrics
	DownloadURLTTL time.Duration
	CoverURLTTL    time.Duration
	Now            func() time.Time
}

// App wires storage, sessions and fan-out for every storefront operation.
type App struct {
	store          store.Store
	sessions       SessionStore
	objects        storage.ObjectStore
	mailer         email.Mailer
	realtime       Publisher
	metrics        *metrics.Metrics
	downloadURLTTL time.Duration
	coverURLTTL    time.Duration
	now            func() time.Time
}

// New constructs the application. Store falls back to Postgres at DatabaseURL.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	if cfg.DownloadURLTTL <= 0 {
		cfg.DownloadURLTTL = defaultDownloadURLTTL
	}
	if cfg.CoverURLTTL <= 0 {
		cfg.CoverURLTTL = defaultCoverURLTTL
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &App{
		store:          dataStore,
		sessions:       cfg.Sessions,
		objects:        cfg.Objects,
		mailer:         cfg.Mailer,
		realtime:       cfg.Realtime,
		metrics:        cfg.Metrics,
		downloadURLTTL: cfg.DownloadURLTTL,
		coverURLTTL:    cfg.CoverURLTTL,
		now:            now,
	}, nil
}

// Store exposes the underlying store for admin tooling.
func (a *App) Store() store.Store {
	return a.store
}

func (a *App) loadUser(id string) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(id)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}
