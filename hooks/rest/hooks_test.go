package rest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panyam/authstate"
	"github.com/panyam/authstate/cache"
)

// fakeClient is an in-memory DataClient plus MutationClient.
type fakeClient struct {
	mu       sync.Mutex
	session  *authstate.SessionData
	accounts []authstate.Account

	sessionCalls  atomic.Int32
	accountsCalls atomic.Int32
	updateCalls   atomic.Int32
}

func (f *fakeClient) setSession(data *authstate.SessionData) {
	f.mu.Lock()
	f.session = data
	f.mu.Unlock()
}

func (f *fakeClient) Session(ctx context.Context) (*authstate.SessionData, error) {
	f.sessionCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, nil
}

func (f *fakeClient) ListAccounts(ctx context.Context) ([]authstate.Account, error) {
	f.accountsCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts, nil
}

func (f *fakeClient) ListSessions(ctx context.Context) ([]authstate.Session, error) {
	return nil, nil
}

func (f *fakeClient) ListPasskeys(ctx context.Context) ([]authstate.Passkey, error) {
	return nil, nil
}

func (f *fakeClient) ListAPIKeys(ctx context.Context) ([]authstate.APIKey, error) {
	return nil, nil
}

func (f *fakeClient) ListDeviceSessions(ctx context.Context) ([]authstate.SessionData, error) {
	return nil, nil
}

func (f *fakeClient) ActiveOrganization(ctx context.Context) (*authstate.Organization, error) {
	return nil, nil
}

func (f *fakeClient) ListOrganizations(ctx context.Context) ([]authstate.Organization, error) {
	return []authstate.Organization{{ID: "o1", Name: "Acme"}}, nil
}

func (f *fakeClient) HasPermission(ctx context.Context, check authstate.PermissionCheck) (*authstate.PermissionResult, error) {
	return &authstate.PermissionResult{Success: true}, nil
}

func (f *fakeClient) GetInvitation(ctx context.Context, invitationID string) (*authstate.Invitation, error) {
	return &authstate.Invitation{ID: invitationID}, nil
}

func (f *fakeClient) UpdateUser(ctx context.Context, update authstate.UserUpdate) error {
	f.updateCalls.Add(1)
	return nil
}

func (f *fakeClient) UnlinkAccount(ctx context.Context, params authstate.UnlinkAccountParams) error {
	return nil
}

func (f *fakeClient) DeletePasskey(ctx context.Context, passkeyID string) error     { return nil }
func (f *fakeClient) RevokeSession(ctx context.Context, sessionToken string) error  { return nil }
func (f *fakeClient) RevokeDeviceSession(ctx context.Context, token string) error   { return nil }
func (f *fakeClient) SetActiveSession(ctx context.Context, sessionToken string) error {
	return nil
}

func testSession(userID string) *authstate.SessionData {
	return &authstate.SessionData{
		User:    authstate.User{ID: userID},
		Session: authstate.Session{Token: "tok-" + userID, UserID: userID},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestHooks(client *fakeClient) (*Hooks, *cache.Store) {
	store := cache.NewStore()
	hooks := NewHooks(Options{Client: client, Store: store})
	return hooks, store
}

func TestSessionHookResolves(t *testing.T) {
	client := &fakeClient{session: testSession("u1")}
	hooks, _ := newTestHooks(client)
	ctx := context.Background()

	hook := hooks.Session(ctx)
	if !hook.Pending && hook.Data == nil {
		t.Errorf("first read must be pending until the resolve lands")
	}

	waitFor(t, "session to resolve", func() bool {
		h := hooks.Session(ctx)
		return !h.Pending && h.Data != nil
	})

	hook = hooks.Session(ctx)
	if hook.Data.User.ID != "u1" {
		t.Errorf("unexpected session user: %+v", hook.Data)
	}
}

func TestSignedOutSessionSettles(t *testing.T) {
	client := &fakeClient{}
	hooks, _ := newTestHooks(client)
	ctx := context.Background()

	hooks.Session(ctx)
	waitFor(t, "session to settle", func() bool {
		return !hooks.Session(ctx).Pending
	})

	hook := hooks.Session(ctx)
	if hook.Data != nil {
		t.Errorf("expected signed-out session, got %+v", hook.Data)
	}
	if hook.Err != nil {
		t.Errorf("signed out is not an error: %v", hook.Err)
	}
}

func TestAccountsGateOnSession(t *testing.T) {
	client := &fakeClient{
		session:  testSession("u1"),
		accounts: []authstate.Account{{AccountID: "a1", Provider: "github"}},
	}
	hooks, _ := newTestHooks(client)
	ctx := context.Background()

	waitFor(t, "accounts to load", func() bool {
		h := hooks.ListAccounts(ctx)
		return !h.Pending && h.Data != nil
	})

	hook := hooks.ListAccounts(ctx)
	if len(*hook.Data) != 1 || (*hook.Data)[0].Provider != "github" {
		t.Errorf("unexpected accounts: %+v", *hook.Data)
	}
}

func TestEmptyListSettles(t *testing.T) {
	client := &fakeClient{session: testSession("u1"), accounts: nil}
	hooks, _ := newTestHooks(client)
	ctx := context.Background()

	waitFor(t, "empty account list to settle", func() bool {
		h := hooks.ListAccounts(ctx)
		return !h.Pending && h.Data != nil
	})

	hook := hooks.ListAccounts(ctx)
	if len(*hook.Data) != 0 {
		t.Errorf("expected empty list, got %+v", *hook.Data)
	}
}

func TestAccountsNotFetchedWhileSignedOut(t *testing.T) {
	client := &fakeClient{}
	hooks, _ := newTestHooks(client)
	ctx := context.Background()

	hooks.ListAccounts(ctx)
	waitFor(t, "session to settle", func() bool {
		return !hooks.Session(ctx).Pending
	})
	hooks.ListAccounts(ctx)

	if got := client.accountsCalls.Load(); got != 0 {
		t.Fatalf("accounts must not be fetched while signed out, got %d calls", got)
	}
}

func TestOnSessionChangeRefetchesSession(t *testing.T) {
	client := &fakeClient{session: testSession("u1")}
	hooks, _ := newTestHooks(client)
	ctx := context.Background()

	waitFor(t, "initial session", func() bool {
		h := hooks.Session(ctx)
		return !h.Pending && h.Data != nil
	})

	client.setSession(testSession("u2"))
	if err := hooks.OnSessionChange(ctx); err != nil {
		t.Fatalf("OnSessionChange failed: %v", err)
	}

	hook := hooks.Session(ctx)
	if hook.Data == nil || hook.Data.User.ID != "u2" {
		t.Fatalf("expected the new session synchronously, got %+v", hook.Data)
	}
}

func TestMutatorInvalidatesAffectedSlot(t *testing.T) {
	client := &fakeClient{
		session:  testSession("u1"),
		accounts: []authstate.Account{{AccountID: "a1", Provider: "github"}},
	}
	hooks, store := newTestHooks(client)
	mutators := NewMutators(client, hooks)
	ctx := context.Background()

	waitFor(t, "accounts to load", func() bool {
		h := hooks.ListAccounts(ctx)
		return !h.Pending && h.Data != nil
	})

	if err := mutators.UnlinkAccount(ctx, authstate.UnlinkAccountParams{ProviderID: "github"}); err != nil {
		t.Fatalf("UnlinkAccount failed: %v", err)
	}
	if _, ok := store.Get(keyAccounts); ok {
		t.Fatalf("mutation must clear the accounts slot")
	}

	if err := mutators.UpdateUser(ctx, authstate.UserUpdate{"name": "x"}); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if _, ok := store.Get(keySession); ok {
		t.Fatalf("UpdateUser must invalidate the session slot")
	}
	if client.updateCalls.Load() != 1 {
		t.Fatalf("expected one backend update call")
	}
}

func TestPermissionChecksGetStableSlots(t *testing.T) {
	client := &fakeClient{session: testSession("u1")}
	hooks, _ := newTestHooks(client)
	ctx := context.Background()

	check := authstate.PermissionCheck{
		OrganizationID: "o1",
		Permissions:    map[string][]string{"project": {"read", "write"}},
	}

	waitFor(t, "permission to resolve", func() bool {
		h := hooks.HasPermission(ctx, check)
		return !h.Pending && h.Data != nil
	})

	hook := hooks.HasPermission(ctx, check)
	if !hook.Data.Success {
		t.Errorf("expected permission granted")
	}

	hooks.mu.Lock()
	slots := len(hooks.permissions)
	hooks.mu.Unlock()
	if slots != 1 {
		t.Fatalf("repeated identical checks must share one slot, got %d", slots)
	}
}
