package handlers

import (
	"testing"
	"time"
)

func TestIdempotencyStoreExpiresEntries(t *testing.T) {
	store := newIdempotencyStoreWith(10*time.Millisecond, 100)
	store.Put("key-1", 42, "ing-1")

	entry, ok := store.Get("key-1")
	if !ok || entry.IngestionID != "ing-1" {
		t.Fatalf("expected fresh entry, got %+v ok=%v", entry, ok)
	}

	time.Sleep(15 * time.Millisecond)
	if _, ok := store.Get("key-1"); ok {
		t.Fatalf("expected expired entry to be dropped")
	}
}

func TestIdempotencyStoreEvictsOldestPastCap(t *testing.T) {
	store := newIdempotencyStoreWith(time.Hour, 2)

	store.Put("key-0", 0, "ing-0")
	time.Sleep(2 * time.Millisecond)
	store.Put("key-1", 1, "ing-1")
	time.Sleep(2 * time.Millisecond)
	store.Put("key-2", 2, "ing-2")

	if _, ok := store.Get("key-0"); ok {
		t.Fatalf("expected oldest entry evicted past the cap")
	}
	for _, key := range []string{"key-1", "key-2"} {
		if _, ok := store.Get(key); !ok {
			t.Fatalf("expected %s retained", key)
		}
	}
}

func TestIdempotencyStoreReplaysByKey(t *testing.T) {
	store := newIdempotencyStore()
	store.Put("key-1", 42, "ing-1")

	entry, ok := store.Get("key-1")
	if !ok {
		t.Fatalf("expected stored entry")
	}
	if entry.PayloadHash != 42 || entry.IngestionID != "ing-1" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if _, ok := store.Get("key-2"); ok {
		t.Fatalf("expected miss for unknown key")
	}
}
