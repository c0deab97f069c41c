package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemorySetGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, ok := m.Get(ctx, "missing"); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	m.Set(ctx, "key", "value", 0)
	got, ok := m.Get(ctx, "key")
	if !ok || got != "value" {
		t.Fatalf("Get = (%q, %v), want (value, true)", got, ok)
	}
	if !m.Exists(ctx, "key") {
		t.Fatal("Exists = false after Set")
	}

	m.Delete(ctx, "key")
	if m.Exists(ctx, "key") {
		t.Fatal("Exists = true after Delete")
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Set(ctx, "short", "value", 10*time.Millisecond)
	if _, ok := m.Get(ctx, "short"); !ok {
		t.Fatal("entry missing before TTL elapsed")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := m.Get(ctx, "short"); ok {
		t.Fatal("entry survived past its TTL")
	}
}

func TestMemoryOverwrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Set(ctx, "key", "old", time.Minute)
	m.Set(ctx, "key", "new", time.Minute)
	if got, _ := m.Get(ctx, "key"); got != "new" {
		t.Fatalf("Get = %q, want new", got)
	}
}
