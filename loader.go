package authstate

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"sync"
	"time"

	"github.com/panyam/authstate/cache"
)

// DefaultStaleTime is the staleness window applied when LoaderOptions leaves
// StaleTime unset.
const DefaultStaleTime = 10 * time.Second

// FetchFunc loads the value for one logical query. A nil result with a nil
// error is a legal outcome (the backend had nothing) and still counts as a
// successful fetch.
type FetchFunc[T any] func(ctx context.Context) (*T, error)

// LoaderOptions configures a Loader.
type LoaderOptions[T any] struct {
	Store *cache.Store // required; the shared cache store
	Fetch FetchFunc[T] // required

	// Key identifies the query's cache slot. When empty it is derived from
	// the fetch function's identity, so the same fetch function always maps
	// to the same slot.
	Key string

	// StaleTime is the maximum entry age before a read triggers a background
	// refresh. Defaults to DefaultStaleTime.
	StaleTime time.Duration

	// Session supplies the current session identity. No fetch is attempted
	// while unauthenticated, and a user-id change invalidates the entry.
	Session SessionSource

	Localization Localization
	Notify       NotifyFunc
	Logger       *slog.Logger

	// OnChange, when set, runs whenever this key's cache entry changes.
	// Consumers use it to re-render; it must not block.
	OnChange func()
}

// Loader orchestrates one cached query: it evaluates the fetch decision table
// on every Snapshot (and on explicit Evaluate calls from session-change
// handlers), joins or starts fetches through the store's in-flight registry,
// and exposes the uniform hook shape.
//
// Overlapping fetches for the same key are not fenced: last write wins by
// completion order, not request order.
type Loader[T any] struct {
	store        *cache.Store
	fetch        FetchFunc[T]
	key          string
	staleTime    time.Duration
	session      SessionSource
	localization Localization
	notify       NotifyFunc
	logger       *slog.Logger
	now          func() time.Time

	mu             sync.Mutex
	initialized    bool
	prevUserID     string
	hasPrevUser    bool
	sessionPending bool
	err            error

	unsubscribe func()
}

// NewLoader creates a Loader. Store, Fetch and Session are required.
func NewLoader[T any](opts LoaderOptions[T]) *Loader[T] {
	if opts.Store == nil || opts.Fetch == nil || opts.Session == nil {
		panic("authstate: LoaderOptions requires Store, Fetch and Session")
	}

	key := opts.Key
	if key == "" {
		key = fetchKey(opts.Fetch)
	}
	staleTime := opts.StaleTime
	if staleTime <= 0 {
		staleTime = DefaultStaleTime
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &Loader[T]{
		store:        opts.Store,
		fetch:        opts.Fetch,
		key:          key,
		staleTime:    staleTime,
		session:      opts.Session,
		localization: opts.Localization,
		notify:       opts.Notify,
		logger:       logger,
		now:          time.Now,
	}
	if opts.OnChange != nil {
		l.unsubscribe = opts.Store.Subscribe(key, opts.OnChange)
	}
	return l
}

// Key returns the cache key this loader reads and writes.
func (l *Loader[T]) Key() string {
	return l.key
}

// Close releases the loader's change subscription. It does not abort an
// in-flight fetch; that request completes and writes normally.
func (l *Loader[T]) Close() {
	if l.unsubscribe != nil {
		l.unsubscribe()
		l.unsubscribe = nil
	}
}

// Evaluate runs the fetch decision table once. Call it on session-change
// events; Snapshot calls it on every read.
//
// The table: with no session, clear the entry and reset markers. With a
// changed user id, clear the entry so Pending becomes true for the new
// identity instead of flashing the previous user's data. Then fetch when the
// loader is uninitialized, the entry is missing, the user changed, or the
// entry is stale -- but only actually issue the fetch when the entry is
// missing or stale.
func (l *Loader[T]) Evaluate(ctx context.Context) {
	sess, pending := l.session.SessionState(ctx)

	l.mu.Lock()
	l.sessionPending = pending
	if sess == nil {
		l.initialized = false
		l.prevUserID = ""
		l.hasPrevUser = false
		l.mu.Unlock()

		l.store.SetRefetching(l.key, false)
		l.store.Clear(l.key)
		return
	}
	currentUserID := sess.User.ID
	userChanged := l.hasPrevUser && l.prevUserID != currentUserID
	l.mu.Unlock()

	if userChanged {
		l.store.Clear(l.key)
	}

	entry, hasEntry := l.store.Get(l.key)
	isStale := !hasEntry || l.now().Sub(entry.Timestamp) > l.staleTime

	l.mu.Lock()
	needsFetch := !l.initialized || !hasEntry || userChanged || (hasEntry && isStale)
	shouldFetch := needsFetch && (!hasEntry || isStale)
	if shouldFetch {
		l.initialized = true
	}
	l.prevUserID = currentUserID
	l.hasPrevUser = true
	l.mu.Unlock()

	if shouldFetch {
		// Flag the refresh before the goroutine starts so readers see
		// "updating" rather than a flash to empty while stale data is shown.
		if hasEntry && entry.Data != nil {
			l.store.SetRefetching(l.key, true)
		}
		go func() {
			bgCtx := context.WithoutCancel(ctx)
			if err := l.Refetch(bgCtx); err != nil {
				l.logger.Warn("background auth data refetch failed", "key", l.key, "error", err)
			}
		}()
	}
}

// Refetch performs the join-or-fetch protocol for this key: if a request is
// already outstanding, wait for it and adopt its outcome without issuing a
// second call; otherwise issue the fetch, registering it so concurrent
// callers join. On success the result is written to the cache even when the
// data is nil; on failure the error is recorded and surfaced as a localized
// toast, and the cache entry is left untouched.
func (l *Loader[T]) Refetch(ctx context.Context) error {
	if req, ok := l.store.InFlight(l.key); ok {
		return l.join(ctx, req)
	}

	if entry, ok := l.store.Get(l.key); ok && entry.Data != nil {
		l.store.SetRefetching(l.key, true)
	}

	req := cache.NewRequest()
	if err := l.store.SetInFlight(l.key, req); err != nil {
		// Lost the registration race; join the winner.
		if winner, ok := l.store.InFlight(l.key); ok {
			return l.join(ctx, winner)
		}
		return l.Refetch(ctx)
	}

	data, err := l.fetch(ctx)

	// Unwrap the typed pointer so a nil result is stored as an absent value
	// rather than a non-nil interface holding a nil pointer.
	var value any
	if data != nil {
		value = data
	}
	req.Resolve(value, err)

	if err != nil {
		l.setErr(err)
		l.notifyError(err)
	} else {
		l.setErr(nil)
		l.store.Set(l.key, value)
	}

	l.store.SetRefetching(l.key, false)
	l.store.RemoveInFlight(l.key)
	return err
}

// Snapshot evaluates the decision table and returns the current hook state.
func (l *Loader[T]) Snapshot(ctx context.Context) AuthHook[T] {
	l.Evaluate(ctx)

	entry, hasEntry := l.store.Get(l.key)

	l.mu.Lock()
	err := l.err
	sessionPending := l.sessionPending
	l.mu.Unlock()

	var data *T
	if hasEntry && entry.Data != nil {
		data, _ = entry.Data.(*T)
	}

	return AuthHook[T]{
		Data:       data,
		Pending:    sessionPending || (data == nil && err == nil),
		Refetching: hasEntry && entry.Refetching,
		Err:        err,
		Refetch:    l.Refetch,
	}
}

// join waits on an existing request and adopts its outcome: a success clears
// any recorded error, a failure replaces it.
func (l *Loader[T]) join(ctx context.Context, req *cache.Request) error {
	_, err := req.Wait(ctx)
	l.setErr(err)
	return err
}

func (l *Loader[T]) setErr(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *Loader[T]) notifyError(err error) {
	if l.notify == nil {
		return
	}
	l.notify(Toast{Variant: ToastError, Message: LocalizedError(err, l.localization)})
}

// fetchKey derives a stable cache key from the fetch function's identity, so
// omitting an explicit key still maps one logical query to one slot.
func fetchKey(fn any) string {
	pc := reflect.ValueOf(fn).Pointer()
	if f := runtime.FuncForPC(pc); f != nil {
		return "fetch:" + f.Name()
	}
	return fmt.Sprintf("fetch:%x", pc)
}
