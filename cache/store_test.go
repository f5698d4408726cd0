package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSetAndGet(t *testing.T) {
	store := NewStore()

	if _, ok := store.Get("missing"); ok {
		t.Fatalf("expected no entry for unknown key")
	}

	store.Set("k", "value")
	entry, ok := store.Get("k")
	if !ok {
		t.Fatalf("expected entry after Set")
	}
	if entry.Data != "value" {
		t.Errorf("expected data %q, got %v", "value", entry.Data)
	}
	if entry.Timestamp.IsZero() {
		t.Errorf("expected timestamp to be set")
	}
	if entry.Refetching {
		t.Errorf("new entry should not be refetching")
	}
}

func TestSetPreservesRefetchingAndRefreshesTimestamp(t *testing.T) {
	store := NewStore()
	base := time.Now()
	store.now = func() time.Time { return base }

	store.Set("k", "v1")
	store.SetRefetching("k", true)

	store.now = func() time.Time { return base.Add(5 * time.Second) }
	store.Set("k", "v2")

	entry, _ := store.Get("k")
	if !entry.Refetching {
		t.Errorf("Set must preserve the refetching flag")
	}
	if !entry.Timestamp.Equal(base.Add(5 * time.Second)) {
		t.Errorf("Set must refresh the timestamp, got %v", entry.Timestamp)
	}
	if entry.Data != "v2" {
		t.Errorf("expected data %q, got %v", "v2", entry.Data)
	}
}

func TestSetRefetchingWithoutEntry(t *testing.T) {
	store := NewStore()

	store.SetRefetching("missing", true)
	if _, ok := store.Get("missing"); ok {
		t.Fatalf("SetRefetching must not create an entry")
	}
}

func TestClear(t *testing.T) {
	store := NewStore()
	store.Set("k", "v")

	store.Clear("k")
	if _, ok := store.Get("k"); ok {
		t.Fatalf("expected entry to be gone after Clear")
	}

	// Clearing a missing key is a no-op, not a panic or a notification.
	store.Clear("k")
}

func TestSubscribeNotifiesOnEveryChange(t *testing.T) {
	store := NewStore()

	var mu sync.Mutex
	count := 0
	unsubscribe := store.Subscribe("k", func() {
		mu.Lock()
		count++
		mu.Unlock()
	})

	store.Set("k", "v")
	store.SetRefetching("k", true)
	store.Clear("k")

	mu.Lock()
	got := count
	mu.Unlock()
	if got != 3 {
		t.Fatalf("expected 3 notifications, got %d", got)
	}

	unsubscribe()
	store.Set("k", "v2")

	mu.Lock()
	got = count
	mu.Unlock()
	if got != 3 {
		t.Fatalf("expected no notification after unsubscribe, got %d", got)
	}
}

func TestSubscribeOtherKeyNotNotified(t *testing.T) {
	store := NewStore()

	fired := false
	defer store.Subscribe("other", func() { fired = true })()

	store.Set("k", "v")
	if fired {
		t.Fatalf("subscriber for a different key must not fire")
	}
}

func TestInFlightSingleRegistration(t *testing.T) {
	store := NewStore()

	req := NewRequest()
	if err := store.SetInFlight("k", req); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if err := store.SetInFlight("k", NewRequest()); !errors.Is(err, ErrRequestInFlight) {
		t.Fatalf("expected ErrRequestInFlight, got %v", err)
	}

	got, ok := store.InFlight("k")
	if !ok || got != req {
		t.Fatalf("expected the registered request back")
	}

	store.RemoveInFlight("k")
	if _, ok := store.InFlight("k"); ok {
		t.Fatalf("expected no in-flight request after removal")
	}
	if err := store.SetInFlight("k", NewRequest()); err != nil {
		t.Fatalf("re-registration after removal failed: %v", err)
	}
}

func TestRequestResolveWakesWaiters(t *testing.T) {
	req := NewRequest()

	done := make(chan struct{})
	var data any
	var err error
	go func() {
		data, err = req.Wait(context.Background())
		close(done)
	}()

	req.Resolve("result", nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after Resolve")
	}
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data != "result" {
		t.Fatalf("expected %q, got %v", "result", data)
	}

	// Resolve is idempotent; later calls must not change the outcome.
	req.Resolve("other", errors.New("late"))
	data, err = req.Wait(context.Background())
	if data != "result" || err != nil {
		t.Fatalf("second Resolve changed the outcome: %v, %v", data, err)
	}
}

func TestRequestWaitHonorsContext(t *testing.T) {
	req := NewRequest()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := req.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestKeys(t *testing.T) {
	store := NewStore()
	store.Set("a", 1)
	store.Set("b", 2)

	keys := store.Keys()
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	seen := map[string]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("expected keys a and b, got %v", keys)
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				store.Set("k", j)
				store.Get("k")
				store.SetRefetching("k", j%2 == 0)
			}
		}()
	}
	wg.Wait()

	if _, ok := store.Get("k"); !ok {
		t.Fatalf("expected entry to survive concurrent access")
	}
}
