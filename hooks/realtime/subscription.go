package realtime

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"github.com/panyam/authstate"
	"github.com/panyam/authstate/cache"
)

type subState int

const (
	subIdle subState = iota
	subFetching
	subResolved
	subErrored
)

// subscription owns one live query and its cache slot. Ensure reconciles the
// desired query with whatever is currently armed: a nil query releases the
// subscription, a changed query re-arms it, an unchanged one is a no-op.
// Results are written to the store as they arrive, so the hook snapshot is
// always a plain cache read.
type subscription struct {
	client    Client
	store     *cache.Store
	key       string
	transform func([]Record) any
	logger    *slog.Logger

	mu     sync.Mutex
	state  subState
	armed  *Query
	cancel func()
	err    error
}

func newSubscription(client Client, store *cache.Store, key string, transform func([]Record) any, logger *slog.Logger) *subscription {
	return &subscription{
		client:    client,
		store:     store,
		key:       key,
		transform: transform,
		logger:    logger,
	}
}

// Ensure reconciles the desired query with the live subscription.
func (s *subscription) Ensure(ctx context.Context, q *Query) {
	s.mu.Lock()
	if q == nil {
		released := s.releaseLocked()
		s.mu.Unlock()
		if released {
			s.store.Clear(s.key)
		}
		return
	}
	if s.armed != nil && s.state != subErrored && reflect.DeepEqual(*s.armed, *q) {
		s.mu.Unlock()
		return
	}
	queryChanged := s.armed != nil && !reflect.DeepEqual(*s.armed, *q)
	s.releaseLocked()
	s.state = subFetching
	armed := *q
	s.armed = &armed
	s.mu.Unlock()

	if queryChanged {
		// The slot holds the previous query's results; a changed query means
		// a different identity or shape, so they must not be served under it.
		// A same-query Rearm keeps the slot so data stays visible while the
		// subscription re-establishes.
		s.store.Clear(s.key)
	}

	cancel, err := s.client.Subscribe(ctx, armed, s.onResults, s.onError)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed == nil || !reflect.DeepEqual(*s.armed, armed) {
		// Released or re-armed while we were subscribing.
		if cancel != nil {
			cancel()
		}
		return
	}
	if err != nil {
		s.state = subErrored
		s.err = err
		return
	}
	s.cancel = cancel
}

// Rearm drops the current subscription and re-subscribes with the same
// query. Used by hook Refetch callbacks.
func (s *subscription) Rearm(ctx context.Context) error {
	s.mu.Lock()
	armed := s.armed
	s.releaseLocked()
	s.mu.Unlock()

	if armed == nil {
		return nil
	}
	q := *armed
	s.Ensure(ctx, &q)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the subscription synchronously and drops its cache slot.
// Safe to call repeatedly.
func (s *subscription) Close() {
	s.mu.Lock()
	released := s.releaseLocked()
	s.mu.Unlock()
	if released {
		s.store.Clear(s.key)
	}
}

// status returns the current machine state and error.
func (s *subscription) status() (subState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}

// releaseLocked cancels any live subscription and returns to idle. Caller
// holds s.mu. Reports whether a query was armed.
func (s *subscription) releaseLocked() bool {
	armed := s.armed != nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.armed = nil
	s.state = subIdle
	s.err = nil
	return armed
}

func (s *subscription) onResults(records []Record) {
	s.mu.Lock()
	if s.armed == nil {
		s.mu.Unlock()
		return
	}
	s.state = subResolved
	s.err = nil
	s.mu.Unlock()

	s.store.Set(s.key, s.transform(records))
}

func (s *subscription) onError(err error) {
	s.mu.Lock()
	if s.armed == nil {
		s.mu.Unlock()
		return
	}
	s.state = subErrored
	s.err = err
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Warn("subscription failed", "key", s.key, "error", err)
	}
}

// subHook builds a typed hook from the subscription's cache slot and state.
func subHook[T any](s *subscription) authstate.AuthHook[T] {
	entry, ok := s.store.Get(s.key)
	state, err := s.status()

	var data *T
	if ok && entry.Data != nil {
		data, _ = entry.Data.(*T)
	}

	// Once data exists, re-establishing the subscription surfaces as a
	// background refresh, never as pending again.
	fetching := state == subFetching
	return authstate.AuthHook[T]{
		Data:       data,
		Pending:    fetching && data == nil,
		Refetching: (ok && entry.Refetching) || (fetching && data != nil),
		Err:        err,
		Refetch:    s.Rearm,
	}
}
