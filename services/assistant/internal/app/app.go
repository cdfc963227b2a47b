package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"ghazal/internal/util"
	"ghazal/pkg/ai"
	"ghazal/pkg/domain"
)

const (
	MaxMessages      = 20
	MaxMessageLength = 4000

	defaultCatalogTTL = 5 * time.Minute
)

const systemPrompt = `You are the shopping assistant of Ghazal Library, an online bookstore.
Ghazal Library sells physical books and ebooks. Ebooks are downloadable from the customer's library right after purchase.
Customers can pay from their wallet or choose cash on delivery for physical items.
Members can deposit their own books in the book exchange. After an admin approves a deposit, other members can borrow it for 14 days or buy it when it has a price.
Members can also send wallet money to each other; an admin approves every transfer.
Answer briefly and helpfully. Only recommend books from the catalog below when it is present, and never invent prices or stock.`

// Config holds runtime configuration for the assistant.
type Config struct {
	Chat       ai.ChatCompleter
	Catalog    CatalogSource
	CatalogTTL time.Duration
	Now        func() time.Time
}

// App answers chat conversations with catalog context.
type App struct {
	chat    ai.ChatCompleter
	catalog *catalogCache
}

// New constructs the application. Catalog is optional.
func New(cfg Config) (*App, error) {
	if cfg.Chat == nil {
		return nil, errors.New("chat completer required")
	}
	a := &App{chat: cfg.Chat}
	if cfg.Catalog != nil {
		ttl := cfg.CatalogTTL
		if ttl <= 0 {
			ttl = defaultCatalogTTL
		}
		now := cfg.Now
		if now == nil {
			now = time.Now
		}
		a.catalog = &catalogCache{source: cfg.Catalog, ttl: ttl, now: now}
	}
	return a, nil
}

// ValidateMessages checks roles, sizes and turn order.
func ValidateMessages(messages []ai.Message) error {
	if len(messages) == 0 {
		return ErrNoMessages
	}
	if len(messages) > MaxMessages {
		return fmt.Errorf("%w: at most %d", ErrTooManyMessages, MaxMessages)
	}
	for i, m := range messages {
		switch m.Role {
		case "user", "assistant":
		default:
			return fmt.Errorf("%w: message %d", ErrInvalidRole, i)
		}
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("%w: message %d", ErrEmptyMessage, i)
		}
		if utf8.RuneCountInString(m.Content) > MaxMessageLength {
			return fmt.Errorf("%w: message %d exceeds %d characters", ErrMessageTooLong, i, MaxMessageLength)
		}
	}
	if messages[len(messages)-1].Role != "user" {
		return ErrLastNotUser
	}
	return nil
}

// Reply validates the conversation and returns the next assistant turn.
func (a *App) Reply(ctx context.Context, messages []ai.Message) (string, error) {
	if err := ValidateMessages(messages); err != nil {
		return "", err
	}
	prompt := a.systemPrompt(ctx)
	full := make([]ai.Message, 0, len(messages)+1)
	full = append(full, ai.Message{Role: "system", Content: prompt})
	for _, m := range messages {
		full = append(full, ai.Message{Role: m.Role, Content: strings.TrimSpace(m.Content)})
	}
	reply, err := a.chat.Complete(ctx, full)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	return reply, nil
}

func (a *App) systemPrompt(ctx context.Context) string {
	if a.catalog == nil {
		return systemPrompt
	}
	products, err := a.catalog.get(ctx)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("catalog context unavailable", "err", err, "stale_items", len(products))
	}
	if len(products) == 0 {
		return systemPrompt
	}
	return systemPrompt + "\n\nCatalog:\n" + formatCatalog(products)
}

func formatCatalog(products []domain.Product) string {
	var b strings.Builder
	for _, p := range products {
		b.WriteString("- ")
		b.WriteString(p.Title)
		if p.Author != "" {
			b.WriteString(" by ")
			b.WriteString(p.Author)
		}
		fmt.Fprintf(&b, " (%s", p.Kind)
		if p.Category != "" {
			b.WriteString(", ")
			b.WriteString(p.Category)
		}
		fmt.Fprintf(&b, ") %s", p.Price.StringFixed(2))
		if p.Kind == domain.KindPhysical && p.Stock <= 0 {
			b.WriteString(", out of stock")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
