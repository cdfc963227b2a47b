package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("")
	if err := s.Put(ctx, "covers/p1.jpg", strings.NewReader("jpeg"), 4, "image/jpeg"); err != nil {
		t.Fatalf("put: %v", err)
	}
	rc, err := s.Get(ctx, "covers/p1.jpg")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "jpeg" {
		t.Fatalf("data = %q", data)
	}

	url, err := s.PresignGet(ctx, "covers/p1.jpg", 15*time.Minute, "cover.jpg")
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if url != "http://objects.local/covers/p1.jpg?expires=15m0s&filename=cover.jpg" {
		t.Fatalf("url = %q", url)
	}

	if err := s.Delete(ctx, "covers/p1.jpg"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "covers/p1.jpg"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
