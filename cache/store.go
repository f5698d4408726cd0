// Package cache implements the process-shared store behind the auth data
// layer: last fetched value per key, per-key change subscribers, and the
// in-flight request registry that keeps concurrent fetches for one key down
// to a single network call.
//
// The store is pure in-memory bookkeeping and never fails. There is no
// eviction: entries live until cleared explicitly or the process ends.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRequestInFlight is returned by SetInFlight when a request is already
// registered for the key. Callers are expected to check InFlight first and
// join the existing request instead.
var ErrRequestInFlight = errors.New("request already in flight for key")

// Entry is one cached result. Data and Timestamp are always written together;
// no partially updated entry is ever observable.
type Entry struct {
	// Data is the last successfully fetched value. A nil Data is legal: a
	// successful fetch that returned nothing still writes the entry.
	Data any

	// Timestamp is when Data was written.
	Timestamp time.Time

	// Refetching is true while a background refresh is in flight and the
	// stale Data is still being shown.
	Refetching bool
}

// Request is the awaitable handle for a single outstanding fetch. The owner
// resolves it exactly once; any number of joiners may Wait on it.
type Request struct {
	done chan struct{}
	once sync.Once
	data any
	err  error
}

// NewRequest creates an unresolved Request.
func NewRequest() *Request {
	return &Request{done: make(chan struct{})}
}

// Resolve records the outcome and wakes all waiters. Subsequent calls are
// no-ops.
func (r *Request) Resolve(data any, err error) {
	r.once.Do(func() {
		r.data = data
		r.err = err
		close(r.done)
	})
}

// Wait blocks until the request resolves or the context is cancelled.
func (r *Request) Wait(ctx context.Context) (any, error) {
	select {
	case <-r.done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed when the request has resolved.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Store is the keyed cache plus in-flight registry. All operations are safe
// for concurrent use; each mutation is a single locked step followed by a
// synchronous notification fan-out to that key's subscribers (run outside the
// lock so callbacks may re-enter the store).
type Store struct {
	mu          sync.Mutex
	entries     map[string]Entry
	subscribers map[string]map[int]func()
	inflight    map[string]*Request
	nextSubID   int

	now func() time.Time
}

// NewStore creates an empty store. One store is shared by all consumers;
// construct it at application startup.
func NewStore() *Store {
	return &Store{
		entries:     make(map[string]Entry),
		subscribers: make(map[string]map[int]func()),
		inflight:    make(map[string]*Request),
		now:         time.Now,
	}
}

// Get returns the entry for key, if any. Purely a read; no side effects.
func (s *Store) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	return entry, ok
}

// Keys returns the keys of all current entries, in no particular order.
// Adapters use it for prefix-scoped invalidation.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	return keys
}

// Set atomically replaces the entry's data and refreshes its timestamp, then
// notifies subscribers. The refetching flag is preserved; the orchestrator
// clears it separately once the fetch fully completes.
func (s *Store) Set(key string, data any) {
	s.mu.Lock()
	entry := s.entries[key]
	entry.Data = data
	entry.Timestamp = s.now()
	s.entries[key] = entry
	callbacks := s.subscribersLocked(key)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// SetRefetching toggles the refetching flag without touching data or
// timestamp, so the UI can show an "updating" state without flashing to
// empty. No-op when no entry exists for key.
func (s *Store) SetRefetching(key string, refetching bool) {
	s.mu.Lock()
	entry, ok := s.entries[key]
	if !ok || entry.Refetching == refetching {
		s.mu.Unlock()
		return
	}
	entry.Refetching = refetching
	s.entries[key] = entry
	callbacks := s.subscribersLocked(key)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// Clear removes the entry entirely and notifies subscribers. An in-flight
// request for the key is left running; the orchestrator re-checks identity
// when its result arrives.
func (s *Store) Clear(key string) {
	s.mu.Lock()
	if _, ok := s.entries[key]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	callbacks := s.subscribersLocked(key)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// Subscribe registers callback to run whenever key's entry changes (write,
// flag toggle or clear) and returns the matching unsubscribe func.
// Subscribing to a key with no entry does not create one.
func (s *Store) Subscribe(key string, callback func()) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	subs, ok := s.subscribers[key]
	if !ok {
		subs = make(map[int]func())
		s.subscribers[key] = subs
	}
	subs[id] = callback

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.subscribers[key]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(s.subscribers, key)
			}
		}
	}
}

// InFlight returns the outstanding request for key, if any.
func (s *Store) InFlight(key string) (*Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.inflight[key]
	return req, ok
}

// SetInFlight registers req as the single outstanding request for key. It
// refuses to overwrite an existing handle: at most one fetch per key may be
// outstanding, and late callers must join via InFlight instead.
func (s *Store) SetInFlight(key string, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[key]; ok {
		return ErrRequestInFlight
	}
	s.inflight[key] = req
	return nil
}

// RemoveInFlight deregisters the outstanding request for key, if any.
func (s *Store) RemoveInFlight(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, key)
}

// subscribersLocked snapshots key's callbacks for fan-out outside the lock.
func (s *Store) subscribersLocked(key string) []func() {
	subs := s.subscribers[key]
	if len(subs) == 0 {
		return nil
	}
	out := make([]func(), 0, len(subs))
	for _, cb := range subs {
		out = append(out, cb)
	}
	return out
}
