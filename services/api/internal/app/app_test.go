package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ghazal/pkg/auth"
	"ghazal/pkg/domain"
	"ghazal/pkg/email"
	"ghazal/pkg/storage"
	"ghazal/pkg/store"
)

type fakeMailer struct {
	mu        sync.Mutex
	orders    []email.OrderConfirmation
	transfers []email.TransferNotice
}

func (m *fakeMailer) SendOrderConfirmation(_ context.Context, p email.OrderConfirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = append(m.orders, p)
	return nil
}

func (m *fakeMailer) SendTransferNotice(_ context.Context, n email.TransferNotice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transfers = append(m.transfers, n)
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (p *fakePublisher) Publish(_ context.Context, n domain.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return nil
}

type testEnv struct {
	app      *App
	store    *store.MemoryStore
	objects  *storage.MemoryStore
	mailer   *fakeMailer
	realtime *fakePublisher
	now      time.Time
}

func (e *testEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	privatePath, _, err := auth.WriteRSAKeyPair(t.TempDir(), 2048)
	if err != nil {
		t.Fatalf("write keys: %v", err)
	}
	sessions, err := store.NewJWTSessionStore(store.SessionConfig{PrivateKeyPath: privatePath}, store.NewMemoryTokenRevoker())
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	env := &testEnv{
		store:    store.NewMemoryStore(),
		objects:  storage.NewMemoryStore(""),
		mailer:   &fakeMailer{},
		realtime: &fakePublisher{},
		now:      time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	a, err := New(Config{
		Store:    env.store,
		Sessions: sessions,
		Objects:  env.objects,
		Mailer:   env.mailer,
		Realtime: env.realtime,
		Now:      func() time.Time { return env.now },
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	env.app = a
	return env
}

func (e *testEnv) signUp(t *testing.T, email string) domain.User {
	t.Helper()
	s, err := e.app.SignUp(email, "Str0ng#Pw", strings.Split(email, "@")[0])
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return s.User
}

// fund credits an account and returns the refreshed user.
func (e *testEnv) fund(t *testing.T, user domain.User, amount string) domain.User {
	t.Helper()
	u, err := e.app.CreditWallet(context.Background(), user.ID, decimal.RequireFromString(amount), "")
	if err != nil {
		t.Fatalf("credit wallet: %v", err)
	}
	return u
}

func (e *testEnv) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	u, ok, err := e.store.GetUserByID(userID)
	if err != nil || !ok {
		t.Fatalf("get user %s: ok=%v err=%v", userID, ok, err)
	}
	return u.WalletBalance
}

func (e *testEnv) notificationsFor(t *testing.T, userID string) []domain.Notification {
	t.Helper()
	items, err := e.store.ListNotifications(userID, false, 100)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return items
}

func hasNotification(items []domain.Notification, typ domain.NotificationType) bool {
	for _, n := range items {
		if n.Type == typ {
			return true
		}
	}
	return false
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{Store: store.NewMemoryStore()}); err == nil {
		t.Fatalf("expected error without session store")
	}
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without store or database URL")
	}
}
