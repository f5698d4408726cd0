package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/panyam/authstate"
	"github.com/panyam/authstate/cache"
)

// fakeRealtimeClient delivers canned collection data and lets tests push
// updates to live subscriptions.
type fakeRealtimeClient struct {
	mu    sync.Mutex
	token string
	data  map[string][]Record
	subs  []*fakeSub
	hold  bool // when set, Subscribe registers without delivering
}

type fakeSub struct {
	q         Query
	onResults func([]Record)
	cancelled bool
}

func (f *fakeRealtimeClient) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeRealtimeClient) setToken(token string) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

func (f *fakeRealtimeClient) setHold(hold bool) {
	f.mu.Lock()
	f.hold = hold
	f.mu.Unlock()
}

func (f *fakeRealtimeClient) Subscribe(ctx context.Context, q Query, onResults func([]Record), onError func(error)) (func(), error) {
	f.mu.Lock()
	sub := &fakeSub{q: q, onResults: onResults}
	f.subs = append(f.subs, sub)
	hold := f.hold
	results := f.match(q)
	f.mu.Unlock()

	if !hold {
		onResults(results)
	}
	return func() {
		f.mu.Lock()
		sub.cancelled = true
		f.mu.Unlock()
	}, nil
}

// push re-delivers the collection to every live subscription watching it.
func (f *fakeRealtimeClient) push(collection string) {
	f.mu.Lock()
	type delivery struct {
		fn      func([]Record)
		records []Record
	}
	var deliveries []delivery
	for _, sub := range f.subs {
		if !sub.cancelled && sub.q.Collection == collection {
			deliveries = append(deliveries, delivery{sub.onResults, f.match(sub.q)})
		}
	}
	f.mu.Unlock()

	for _, d := range deliveries {
		d.fn(d.records)
	}
}

// match applies the query's equality filters. Caller holds f.mu.
func (f *fakeRealtimeClient) match(q Query) []Record {
	var out []Record
	for _, r := range f.data[q.Collection] {
		ok := true
		for field, want := range q.Where {
			if r[field] != want {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, r)
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (f *fakeRealtimeClient) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeRealtimeClient) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, sub := range f.subs {
		if !sub.cancelled {
			n++
		}
	}
	return n
}

func signedToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject})
	s, err := token.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return s
}

func TestTokenSubject(t *testing.T) {
	if got := tokenSubject(signedToken(t, "u1"), nil); got != "u1" {
		t.Errorf("expected subject u1, got %q", got)
	}
	if got := tokenSubject("", nil); got != "" {
		t.Errorf("empty token must yield no subject, got %q", got)
	}
	if got := tokenSubject("not-a-jwt", nil); got != "" {
		t.Errorf("malformed token must yield no subject, got %q", got)
	}
	if got := tokenSubject(signedToken(t, ""), nil); got != "" {
		t.Errorf("subject-less token must yield no subject, got %q", got)
	}
}

func TestSubscriptionEnsureLifecycle(t *testing.T) {
	client := &fakeRealtimeClient{data: map[string][]Record{
		"items": {{"id": "1", "userId": "u1"}},
	}}
	store := cache.NewStore()
	sub := newSubscription(client, store, "k", sliceTransform(func(r Record) string { return r.String("id") }), nil)
	ctx := context.Background()

	q := &Query{Collection: "items", Where: map[string]any{"userId": "u1"}}
	sub.Ensure(ctx, q)
	if client.subscribeCount() != 1 {
		t.Fatalf("expected one subscription, got %d", client.subscribeCount())
	}
	if state, _ := sub.status(); state != subResolved {
		t.Fatalf("expected resolved state after first delivery, got %d", state)
	}

	entry, ok := store.Get("k")
	if !ok || entry.Data == nil {
		t.Fatalf("expected results in the cache")
	}

	// Same query again is a no-op.
	sub.Ensure(ctx, q)
	if client.subscribeCount() != 1 {
		t.Fatalf("unchanged query must not re-subscribe, got %d", client.subscribeCount())
	}

	// A changed query re-arms: old subscription cancelled, new one opened.
	sub.Ensure(ctx, &Query{Collection: "items", Where: map[string]any{"userId": "u2"}})
	if client.subscribeCount() != 2 {
		t.Fatalf("changed query must re-subscribe, got %d", client.subscribeCount())
	}
	if client.liveCount() != 1 {
		t.Fatalf("old subscription must be cancelled, %d still live", client.liveCount())
	}

	// Releasing drops the subscription and the cache slot.
	sub.Ensure(ctx, nil)
	if client.liveCount() != 0 {
		t.Fatalf("release must cancel the subscription")
	}
	if _, ok := store.Get("k"); ok {
		t.Fatalf("release must clear the cache slot")
	}
	if state, _ := sub.status(); state != subIdle {
		t.Fatalf("released subscription must be idle, got %d", state)
	}
}

func TestRearmKeepsDataVisibleWhileResubscribing(t *testing.T) {
	client := &fakeRealtimeClient{data: map[string][]Record{
		"items": {{"id": "1", "userId": "u1"}},
	}}
	store := cache.NewStore()
	sub := newSubscription(client, store, "k", sliceTransform(func(r Record) string { return r.String("id") }), nil)
	ctx := context.Background()

	sub.Ensure(ctx, &Query{Collection: "items", Where: map[string]any{"userId": "u1"}})

	// The re-subscribe does not deliver until pushed.
	client.setHold(true)
	if err := sub.Rearm(ctx); err != nil {
		t.Fatalf("Rearm failed: %v", err)
	}

	hook := subHook[[]string](sub)
	if hook.Data == nil || len(*hook.Data) != 1 {
		t.Fatalf("re-arming the same query must keep cached data visible, got %#v", hook.Data)
	}
	if hook.Pending {
		t.Errorf("a hook with data must not flip back to pending")
	}
	if !hook.Refetching {
		t.Errorf("re-subscribing with data present must read as refetching")
	}

	client.setHold(false)
	client.push("items")

	hook = subHook[[]string](sub)
	if hook.Pending || hook.Refetching {
		t.Errorf("delivery must settle the hook, got pending=%v refetching=%v", hook.Pending, hook.Refetching)
	}
}

func TestQueryChangeDropsPreviousResults(t *testing.T) {
	client := &fakeRealtimeClient{data: map[string][]Record{
		"account": {
			{"id": "a1", "userId": "u1"},
			{"id": "a2", "userId": "u2"},
		},
	}}
	store := cache.NewStore()
	sub := newSubscription(client, store, "k", sliceTransform(func(r Record) string { return r.String("id") }), nil)
	ctx := context.Background()

	sub.Ensure(ctx, &Query{Collection: "account", Where: map[string]any{"userId": "u1"}})
	if hook := subHook[[]string](sub); hook.Data == nil || (*hook.Data)[0] != "a1" {
		t.Fatalf("expected u1's results first, got %#v", hook.Data)
	}

	client.setHold(true)
	sub.Ensure(ctx, &Query{Collection: "account", Where: map[string]any{"userId": "u2"}})

	hook := subHook[[]string](sub)
	if hook.Data != nil {
		t.Fatalf("the old query's results must not be served under the new one, got %#v", hook.Data)
	}
	if !hook.Pending {
		t.Errorf("a re-armed query with no data yet must read as pending")
	}

	client.setHold(false)
	client.push("account")

	hook = subHook[[]string](sub)
	if hook.Data == nil || len(*hook.Data) != 1 || (*hook.Data)[0] != "a2" {
		t.Fatalf("expected u2's results after delivery, got %#v", hook.Data)
	}
}

func TestSubscriptionPushUpdatesCache(t *testing.T) {
	client := &fakeRealtimeClient{data: map[string][]Record{
		"items": {{"id": "1", "userId": "u1"}},
	}}
	store := cache.NewStore()
	sub := newSubscription(client, store, "k", sliceTransform(func(r Record) string { return r.String("id") }), nil)
	ctx := context.Background()

	sub.Ensure(ctx, &Query{Collection: "items", Where: map[string]any{"userId": "u1"}})

	client.mu.Lock()
	client.data["items"] = append(client.data["items"], Record{"id": "2", "userId": "u1"})
	client.mu.Unlock()
	client.push("items")

	entry, _ := store.Get("k")
	ids, _ := entry.Data.(*[]string)
	if ids == nil || len(*ids) != 2 {
		t.Fatalf("expected pushed update in cache, got %#v", entry.Data)
	}
}

func TestTokenHooksSignedOut(t *testing.T) {
	client := &fakeRealtimeClient{}
	store := cache.NewStore()
	hooks := NewTokenHooks(TokenOptions{Client: client, Store: store})
	ctx := context.Background()

	hook := hooks.Session(ctx)
	if hook.Pending {
		t.Errorf("signed out must not read as pending")
	}
	if hook.Data != nil {
		t.Errorf("expected no session data, got %+v", hook.Data)
	}
	if client.subscribeCount() != 0 {
		t.Errorf("no query may be armed without a token subject")
	}

	accounts := hooks.ListAccounts(ctx)
	if accounts.Pending || accounts.Data != nil {
		t.Errorf("signed-out list hook must be settled and empty")
	}
	if client.subscribeCount() != 0 {
		t.Errorf("list hooks must not subscribe while signed out")
	}
}

func TestTokenHooksSessionMergesLiveRecord(t *testing.T) {
	client := &fakeRealtimeClient{data: map[string][]Record{
		"user": {{"id": "u1", "email": "alice@example.com", "name": "Alice"}},
	}}
	client.setToken(signedToken(t, "u1"))
	store := cache.NewStore()

	known := &authstate.SessionData{
		User:    authstate.User{ID: "u1"},
		Session: authstate.Session{Token: "cookie-token", UserID: "u1"},
	}
	hooks := NewTokenHooks(TokenOptions{
		Client:      client,
		Store:       store,
		SessionData: func() *authstate.SessionData { return known },
	})
	ctx := context.Background()

	hook := hooks.Session(ctx)
	if hook.Pending {
		t.Fatalf("synchronous fake delivery should resolve immediately")
	}
	if hook.Data == nil {
		t.Fatalf("expected merged session data")
	}
	if hook.Data.User.Name != "Alice" {
		t.Errorf("user half must come from the live record, got %+v", hook.Data.User)
	}
	if hook.Data.Session.Token != "cookie-token" {
		t.Errorf("session half must come from the host, got %+v", hook.Data.Session)
	}
}

func TestTokenHooksListsFilterBySubject(t *testing.T) {
	client := &fakeRealtimeClient{data: map[string][]Record{
		"account": {
			{"id": "a1", "userId": "u1", "accountId": "ext1", "providerId": "github"},
			{"id": "a2", "userId": "u2", "accountId": "ext2", "providerId": "google"},
		},
	}}
	client.setToken(signedToken(t, "u1"))
	store := cache.NewStore()
	hooks := NewTokenHooks(TokenOptions{Client: client, Store: store})
	ctx := context.Background()

	hook := hooks.ListAccounts(ctx)
	if hook.Data == nil {
		t.Fatalf("expected account data")
	}
	got := *hook.Data
	if len(got) != 1 || got[0].Provider != "github" {
		t.Fatalf("expected only u1's accounts, got %+v", got)
	}
}

func TestTokenHooksRearmOnTokenChange(t *testing.T) {
	client := &fakeRealtimeClient{data: map[string][]Record{
		"user": {
			{"id": "u1", "email": "alice@example.com"},
			{"id": "u2", "email": "bob@example.com"},
		},
	}}
	client.setToken(signedToken(t, "u1"))
	store := cache.NewStore()
	hooks := NewTokenHooks(TokenOptions{Client: client, Store: store})
	ctx := context.Background()

	hook := hooks.Session(ctx)
	if hook.Data == nil || hook.Data.User.Email != "alice@example.com" {
		t.Fatalf("expected u1's session, got %+v", hook.Data)
	}

	client.setToken(signedToken(t, "u2"))
	if err := hooks.OnSessionChange(ctx); err != nil {
		t.Fatalf("OnSessionChange failed: %v", err)
	}

	hook = hooks.Session(ctx)
	if hook.Data == nil || hook.Data.User.Email != "bob@example.com" {
		t.Fatalf("expected u2's session after token change, got %+v", hook.Data)
	}
}

func TestTokenChangeDoesNotLeakPreviousSession(t *testing.T) {
	client := &fakeRealtimeClient{data: map[string][]Record{
		"user": {
			{"id": "u1", "email": "alice@example.com"},
			{"id": "u2", "email": "bob@example.com"},
		},
	}}
	client.setToken(signedToken(t, "u1"))
	store := cache.NewStore()
	hooks := NewTokenHooks(TokenOptions{Client: client, Store: store})
	ctx := context.Background()

	if hook := hooks.Session(ctx); hook.Data == nil || hook.Data.User.Email != "alice@example.com" {
		t.Fatalf("expected u1's session first, got %+v", hook.Data)
	}

	client.setHold(true)
	client.setToken(signedToken(t, "u2"))
	if err := hooks.OnSessionChange(ctx); err != nil {
		t.Fatalf("OnSessionChange failed: %v", err)
	}

	hook := hooks.Session(ctx)
	if hook.Data != nil {
		t.Fatalf("u1's session must not be visible under u2's token, got %+v", hook.Data)
	}
	if !hook.Pending {
		t.Errorf("the new identity's session must read as pending until delivery")
	}

	client.setHold(false)
	client.push("user")

	hook = hooks.Session(ctx)
	if hook.Data == nil || hook.Data.User.Email != "bob@example.com" {
		t.Fatalf("expected u2's session after delivery, got %+v", hook.Data)
	}
}

func TestRecordHooksGateOnSessionSource(t *testing.T) {
	client := &fakeRealtimeClient{data: map[string][]Record{
		"user": {{"id": "u1", "email": "alice@example.com", "name": "Live Alice"}},
	}}
	store := cache.NewStore()
	source := &authstate.StaticSessionSource{}
	hooks := NewRecordHooks(RecordOptions{Client: client, Store: store, Session: source})
	ctx := context.Background()

	hook := hooks.Session(ctx)
	if hook.Data != nil {
		t.Fatalf("no outer session means no data, got %+v", hook.Data)
	}
	if client.subscribeCount() != 0 {
		t.Fatalf("no query may be armed without an outer session")
	}

	source.Data = &authstate.SessionData{
		User:    authstate.User{ID: "u1", Name: "Stale Alice"},
		Session: authstate.Session{Token: "tok", UserID: "u1"},
	}
	hook = hooks.Session(ctx)
	if hook.Data == nil {
		t.Fatalf("expected session data")
	}
	if hook.Data.User.Name != "Live Alice" {
		t.Errorf("user half should prefer the live record, got %+v", hook.Data.User)
	}
	if hook.Data.Session.Token != "tok" {
		t.Errorf("session half must come from the source, got %+v", hook.Data.Session)
	}
}

type fakeTransactor struct {
	updates []string
	deletes []string
	wheres  []map[string]any
}

func (f *fakeTransactor) UpdateRecord(ctx context.Context, collection, id string, fields map[string]any) error {
	f.updates = append(f.updates, collection+"/"+id)
	return nil
}

func (f *fakeTransactor) DeleteRecord(ctx context.Context, collection, id string) error {
	f.deletes = append(f.deletes, collection+"/"+id)
	return nil
}

func (f *fakeTransactor) DeleteWhere(ctx context.Context, collection string, where map[string]any) error {
	f.deletes = append(f.deletes, collection)
	f.wheres = append(f.wheres, where)
	return nil
}

func TestMutatorsRequireAuthentication(t *testing.T) {
	client := &fakeRealtimeClient{}
	store := cache.NewStore()
	hooks := NewRecordHooks(RecordOptions{
		Client:  client,
		Store:   store,
		Session: &authstate.StaticSessionSource{},
	})
	mutators := NewMutators(hooks, &fakeTransactor{})
	ctx := context.Background()

	if err := mutators.UpdateUser(ctx, authstate.UserUpdate{"name": "x"}); !errors.Is(err, authstate.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if err := mutators.DeletePasskey(ctx, "pk1"); !errors.Is(err, authstate.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestMutatorsWriteThroughTransactor(t *testing.T) {
	client := &fakeRealtimeClient{}
	store := cache.NewStore()
	source := &authstate.StaticSessionSource{Data: &authstate.SessionData{
		User: authstate.User{ID: "u1"},
	}}
	hooks := NewRecordHooks(RecordOptions{Client: client, Store: store, Session: source})
	tx := &fakeTransactor{}
	mutators := NewMutators(hooks, tx)
	ctx := context.Background()

	if err := mutators.UpdateUser(ctx, authstate.UserUpdate{"name": "x"}); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if len(tx.updates) != 1 || tx.updates[0] != "user/u1" {
		t.Fatalf("unexpected updates: %v", tx.updates)
	}

	if err := mutators.UnlinkAccount(ctx, authstate.UnlinkAccountParams{ProviderID: "github"}); err != nil {
		t.Fatalf("UnlinkAccount failed: %v", err)
	}
	if len(tx.wheres) != 1 || tx.wheres[0]["providerId"] != "github" || tx.wheres[0]["userId"] != "u1" {
		t.Fatalf("unexpected delete filter: %v", tx.wheres)
	}

	var ae *authstate.Error
	if err := mutators.SetActiveSession(ctx, "tok"); !errors.As(err, &ae) {
		t.Fatalf("expected typed unsupported error, got %v", err)
	}
}
