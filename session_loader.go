package authstate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/panyam/authstate/cache"
)

// SessionLoader resolves a backend's session hook. It cannot be a plain
// Loader because the orchestrator gates on session presence, and the session
// fetch itself must run while unauthenticated: a resolved nil session means
// "signed out", not "still pending".
type SessionLoader struct {
	store     *cache.Store
	key       string
	fetch     func(ctx context.Context) (*SessionData, error)
	staleTime time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	resolved bool
	err      error
}

// NewSessionLoader creates a session loader writing to the given cache key.
func NewSessionLoader(store *cache.Store, key string, fetch func(ctx context.Context) (*SessionData, error), staleTime time.Duration, logger *slog.Logger) *SessionLoader {
	if staleTime <= 0 {
		staleTime = DefaultStaleTime
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionLoader{
		store:     store,
		key:       key,
		fetch:     fetch,
		staleTime: staleTime,
		logger:    logger,
		now:       time.Now,
	}
}

// Snapshot returns the current session hook state, kicking off a background
// resolve when the cached session is missing or stale.
func (s *SessionLoader) Snapshot(ctx context.Context) AuthHook[SessionData] {
	entry, ok := s.store.Get(s.key)
	stale := !ok || s.now().Sub(entry.Timestamp) > s.staleTime

	if stale {
		if _, inflight := s.store.InFlight(s.key); !inflight {
			if ok && entry.Data != nil {
				s.store.SetRefetching(s.key, true)
			}
			go func() {
				if err := s.Refetch(context.WithoutCancel(ctx)); err != nil {
					s.logger.Warn("session resolve failed", "key", s.key, "error", err)
				}
			}()
		}
	}

	s.mu.Lock()
	resolved := s.resolved
	err := s.err
	s.mu.Unlock()

	var data *SessionData
	if ok && entry.Data != nil {
		data, _ = entry.Data.(*SessionData)
	}

	return AuthHook[SessionData]{
		Data:       data,
		Pending:    !resolved,
		Refetching: ok && entry.Refetching,
		Err:        err,
		Refetch:    s.Refetch,
	}
}

// SessionState implements SessionSource.
func (s *SessionLoader) SessionState(ctx context.Context) (*SessionData, bool) {
	hook := s.Snapshot(ctx)
	return hook.Data, hook.Pending
}

// Refetch resolves the session, joining an in-flight resolve when present.
func (s *SessionLoader) Refetch(ctx context.Context) error {
	if req, ok := s.store.InFlight(s.key); ok {
		_, err := req.Wait(ctx)
		s.complete(err)
		return err
	}

	req := cache.NewRequest()
	if err := s.store.SetInFlight(s.key, req); err != nil {
		if winner, ok := s.store.InFlight(s.key); ok {
			_, werr := winner.Wait(ctx)
			s.complete(werr)
			return werr
		}
		return s.Refetch(ctx)
	}

	data, err := s.fetch(ctx)

	var value any
	if data != nil {
		value = data
	}
	req.Resolve(value, err)

	s.complete(err)
	if err == nil {
		s.store.Set(s.key, value)
	}

	s.store.SetRefetching(s.key, false)
	s.store.RemoveInFlight(s.key)
	return err
}

// Invalidate drops the cached session so the next snapshot resolves fresh.
func (s *SessionLoader) Invalidate() {
	s.mu.Lock()
	s.resolved = false
	s.err = nil
	s.mu.Unlock()
	s.store.Clear(s.key)
}

func (s *SessionLoader) complete(err error) {
	s.mu.Lock()
	s.resolved = true
	s.err = err
	s.mu.Unlock()
}
