package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ghazal/pkg/domain"
)

// CatalogSize is how many products the assistant sees.
const CatalogSize = 20

// CatalogSource lists active products for the prompt.
type CatalogSource interface {
	Products(ctx context.Context, limit int) ([]domain.Product, error)
}

// HTTPCatalog reads the public product list from the api.
type HTTPCatalog struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPCatalog builds a client for the api at baseURL.
func NewHTTPCatalog(baseURL string, client *http.Client) (*HTTPCatalog, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("catalog url required")
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPCatalog{baseURL: baseURL, httpClient: client}, nil
}

func (c *HTTPCatalog) Products(ctx context.Context, limit int) ([]domain.Product, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/products?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch catalog: status %d", resp.StatusCode)
	}
	var out struct {
		Items []domain.Product `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(out.Items) > limit {
		out.Items = out.Items[:limit]
	}
	return out.Items, nil
}

// catalogRetryBackoff is how long a failed refresh is remembered before the
// api is asked again.
const catalogRetryBackoff = 30 * time.Second

// catalogCache keeps the last successful listing for ttl. A failed refresh
// keeps serving the previous listing. Concurrent refreshes share one fetch,
// made without holding mu.
type catalogCache struct {
	source CatalogSource
	ttl    time.Duration
	now    func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	items     []domain.Product
	fetchedAt time.Time
	failedAt  time.Time
	lastErr   error
}

func (c *catalogCache) get(ctx context.Context) ([]domain.Product, error) {
	c.mu.Lock()
	now := c.now()
	if !c.fetchedAt.IsZero() && now.Sub(c.fetchedAt) < c.ttl {
		items := c.items
		c.mu.Unlock()
		return items, nil
	}
	if !c.failedAt.IsZero() && now.Sub(c.failedAt) < catalogRetryBackoff {
		items, err := c.items, c.lastErr
		c.mu.Unlock()
		return items, err
	}
	c.mu.Unlock()

	_, err, _ := c.group.Do("catalog", func() (any, error) {
		items, err := c.source.Products(ctx, CatalogSize)
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.failedAt = c.now()
			c.lastErr = err
			return nil, err
		}
		c.items = items
		c.fetchedAt = c.now()
		c.failedAt = time.Time{}
		c.lastErr = nil
		return nil, nil
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items, err
}
