package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ghazal/pkg/ai"
	"ghazal/pkg/domain"
)

type fakeChat struct {
	mu    sync.Mutex
	calls [][]ai.Message
	reply string
	err   error
}

func (f *fakeChat) Complete(_ context.Context, messages []ai.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messages)
	return f.reply, f.err
}

type fakeCatalog struct {
	calls    int
	products []domain.Product
	err      error
}

func (f *fakeCatalog) Products(_ context.Context, limit int) ([]domain.Product, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.products, nil
}

func userMessage(content string) ai.Message {
	return ai.Message{Role: "user", Content: content}
}

func TestValidateMessages(t *testing.T) {
	many := make([]ai.Message, MaxMessages+1)
	for i := range many {
		many[i] = userMessage("hi")
	}
	cases := []struct {
		name     string
		messages []ai.Message
		want     error
	}{
		{"empty", nil, ErrNoMessages},
		{"too many", many, ErrTooManyMessages},
		{"bad role", []ai.Message{{Role: "system", Content: "x"}}, ErrInvalidRole},
		{"blank content", []ai.Message{userMessage("  ")}, ErrEmptyMessage},
		{"too long", []ai.Message{userMessage(strings.Repeat("a", MaxMessageLength+1))}, ErrMessageTooLong},
		{"last from assistant", []ai.Message{userMessage("hi"), {Role: "assistant", Content: "hello"}}, ErrLastNotUser},
		{"ok", []ai.Message{userMessage("hi"), {Role: "assistant", Content: "hello"}, userMessage("books?")}, nil},
		{"multibyte at limit", []ai.Message{userMessage(strings.Repeat("غ", MaxMessageLength))}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateMessages(tc.messages)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestReplyPrependsSystemPromptWithCatalog(t *testing.T) {
	chat := &fakeChat{reply: "Try Rumi."}
	catalog := &fakeCatalog{products: []domain.Product{
		{Title: "The Essential Rumi", Author: "Rumi", Kind: domain.KindPhysical, Category: "poetry", Price: decimal.RequireFromString("12.5"), Stock: 0},
		{Title: "Divan", Author: "Hafez", Kind: domain.KindEbook, Price: decimal.NewFromInt(4)},
	}}
	a, err := New(Config{Chat: chat, Catalog: catalog})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	reply, err := a.Reply(context.Background(), []ai.Message{userMessage("  a poetry book? ")})
	if err != nil || reply != "Try Rumi." {
		t.Fatalf("reply = %q, err = %v", reply, err)
	}
	sent := chat.calls[0]
	if len(sent) != 2 || sent[0].Role != "system" || sent[1].Content != "a poetry book?" {
		t.Fatalf("unexpected messages: %+v", sent)
	}
	for _, want := range []string{"Ghazal Library", "The Essential Rumi by Rumi (physical, poetry) 12.50, out of stock", "Divan by Hafez (ebook) 4.00"} {
		if !strings.Contains(sent[0].Content, want) {
			t.Fatalf("system prompt missing %q:\n%s", want, sent[0].Content)
		}
	}
}

func TestCatalogIsCachedAndServedStale(t *testing.T) {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	chat := &fakeChat{reply: "ok"}
	catalog := &fakeCatalog{products: []domain.Product{{Title: "Shahnameh", Kind: domain.KindEbook, Price: decimal.NewFromInt(3)}}}
	a, err := New(Config{Chat: chat, Catalog: catalog, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ask := func() string {
		t.Helper()
		if _, err := a.Reply(context.Background(), []ai.Message{userMessage("hi")}); err != nil {
			t.Fatalf("reply: %v", err)
		}
		return chat.calls[len(chat.calls)-1][0].Content
	}

	ask()
	now = now.Add(4 * time.Minute)
	ask()
	if catalog.calls != 1 {
		t.Fatalf("catalog fetched %d times within ttl, want 1", catalog.calls)
	}

	now = now.Add(2 * time.Minute)
	catalog.err = errors.New("api down")
	prompt := ask()
	if catalog.calls != 2 {
		t.Fatalf("catalog fetched %d times after ttl, want 2", catalog.calls)
	}
	if !strings.Contains(prompt, "Shahnameh") {
		t.Fatalf("stale catalog not used:\n%s", prompt)
	}

	now = now.Add(10 * time.Second)
	ask()
	if catalog.calls != 2 {
		t.Fatalf("catalog fetched %d times during retry backoff, want 2", catalog.calls)
	}

	now = now.Add(catalogRetryBackoff)
	catalog.err = nil
	ask()
	if catalog.calls != 3 {
		t.Fatalf("catalog fetched %d times after backoff, want 3", catalog.calls)
	}
}

func TestReplyWithoutCatalogAndCompletionError(t *testing.T) {
	chat := &fakeChat{err: ai.ErrEmptyCompletion}
	a, err := New(Config{Chat: chat})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	_, err = a.Reply(context.Background(), []ai.Message{userMessage("hi")})
	if !errors.Is(err, ai.ErrEmptyCompletion) {
		t.Fatalf("err = %v, want ErrEmptyCompletion", err)
	}
	if strings.Contains(chat.calls[0][0].Content, "Catalog:") {
		t.Fatalf("catalog section present without a source")
	}
}

func TestHTTPCatalogReadsProductList(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products" || r.URL.Query().Get("limit") != "20" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":"p1","kind":"ebook","title":"Masnavi","price":"9.99","active":true}],"count":1}`))
	}))
	defer api.Close()

	c, err := NewHTTPCatalog(api.URL+"/", nil)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	items, err := c.Products(context.Background(), CatalogSize)
	if err != nil {
		t.Fatalf("products: %v", err)
	}
	if len(items) != 1 || items[0].Title != "Masnavi" || !items[0].Price.Equal(decimal.RequireFromString("9.99")) {
		t.Fatalf("unexpected items: %+v", items)
	}
}
