package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

// MemoryObject is an object held by MemoryStore.
type MemoryObject struct {
	Data        []byte
	ContentType string
}

// MemoryStore is an in-process ObjectStore used by tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]MemoryObject
	baseURL string
}

// NewMemoryStore builds an empty store; presigned URLs are rooted at baseURL.
func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "http://objects.local"
	}
	return &MemoryStore{objects: make(map[string]MemoryObject), baseURL: baseURL}
}

func (m *MemoryStore) Put(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	m.mu.Lock()
	m.objects[key] = MemoryObject{Data: data, ContentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.Data)), nil
}

func (m *MemoryStore) PresignGet(ctx context.Context, key string, expiry time.Duration, downloadName string) (string, error) {
	q := url.Values{}
	q.Set("expires", expiry.String())
	if downloadName != "" {
		q.Set("filename", downloadName)
	}
	return m.baseURL + "/" + key + "?" + q.Encode(), nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Object returns a stored object for assertions.
func (m *MemoryStore) Object(key string) (MemoryObject, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}

var (
	_ ObjectStore = (*MemoryStore)(nil)
	_ ObjectStore = (*MinioStore)(nil)
)
