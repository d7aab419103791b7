package store

import (
	"context"
	"testing"
	"time"

	"github.com/rushteam/carprice/core"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	if _, err := s.Get(ctx, "bundle"); !core.IsNotFound(err) {
		t.Fatalf("Get() on empty store error = %v, want NOT_FOUND", err)
	}

	value := []byte(`{"version":"v1"}`)
	if err := s.Set(ctx, "bundle", value); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value[0] = 'x'

	got, err := s.Get(ctx, "bundle")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `{"version":"v1"}` {
		t.Errorf("Get() = %s, stored value must not alias caller's slice", got)
	}

	if err := s.Delete(ctx, "bundle"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "bundle"); !core.IsNotFound(err) {
		t.Errorf("Get() after Delete error = %v", err)
	}
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	s.mu.Lock()
	s.data["old"] = entry{value: []byte("x"), expire: time.Now().Add(-time.Second)}
	s.mu.Unlock()

	if _, err := s.Get(ctx, "old"); !core.IsNotFound(err) {
		t.Errorf("expired key error = %v, want NOT_FOUND", err)
	}

	if err := s.Set(ctx, "fresh", []byte("y"), 60); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "fresh"); err != nil {
		t.Errorf("fresh key error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
