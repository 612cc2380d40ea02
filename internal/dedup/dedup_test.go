package dedup

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreSeenOrAdd(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	seen, err := s.SeenOrAdd(ctx, "abc", time.Minute)
	if err != nil {
		t.Fatalf("SeenOrAdd: %v", err)
	}
	if seen {
		t.Fatalf("first sighting reported as seen")
	}

	seen, err = s.SeenOrAdd(ctx, "abc", time.Minute)
	if err != nil {
		t.Fatalf("SeenOrAdd: %v", err)
	}
	if !seen {
		t.Fatalf("second sighting not reported as seen")
	}

	seen, err = s.SeenOrAdd(ctx, "other", time.Minute)
	if err != nil {
		t.Fatalf("SeenOrAdd: %v", err)
	}
	if seen {
		t.Fatalf("distinct key reported as seen")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.SeenOrAdd(ctx, "abc", 20*time.Millisecond); err != nil {
		t.Fatalf("SeenOrAdd: %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	seen, err := s.SeenOrAdd(ctx, "abc", time.Minute)
	if err != nil {
		t.Fatalf("SeenOrAdd: %v", err)
	}
	if seen {
		t.Fatalf("expired key reported as seen")
	}
}
