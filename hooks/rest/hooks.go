// Package rest adapts the generic HTTP auth client into the AuthHooks
// contract. It is the polling adapter: the client supplies bare
// request/response calls, and every hook is backed by a Loader over the
// shared cache store for staleness tracking and request coalescing.
package rest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panyam/authstate"
	"github.com/panyam/authstate/cache"
)

// DataClient is the read surface the adapter needs from the auth backend.
// *client.AuthClient satisfies it.
type DataClient interface {
	Session(ctx context.Context) (*authstate.SessionData, error)
	ListAccounts(ctx context.Context) ([]authstate.Account, error)
	ListSessions(ctx context.Context) ([]authstate.Session, error)
	ListPasskeys(ctx context.Context) ([]authstate.Passkey, error)
	ListAPIKeys(ctx context.Context) ([]authstate.APIKey, error)
	ListDeviceSessions(ctx context.Context) ([]authstate.SessionData, error)
	ActiveOrganization(ctx context.Context) (*authstate.Organization, error)
	ListOrganizations(ctx context.Context) ([]authstate.Organization, error)
	HasPermission(ctx context.Context, check authstate.PermissionCheck) (*authstate.PermissionResult, error)
	GetInvitation(ctx context.Context, invitationID string) (*authstate.Invitation, error)
}

// Cache keys for the adapter's fixed queries.
const (
	keySession        = "rest:session"
	keyAccounts       = "rest:accounts"
	keySessions       = "rest:sessions"
	keyPasskeys       = "rest:passkeys"
	keyAPIKeys        = "rest:api-keys"
	keyDeviceSessions = "rest:device-sessions"
	keyActiveOrg      = "rest:active-organization"
	keyOrganizations  = "rest:organizations"
)

// Options configures the rest adapter.
type Options struct {
	Client DataClient   // required
	Store  *cache.Store // required; the shared cache store

	// StaleTime applies to every hook except Session. Zero means the
	// orchestrator default.
	StaleTime time.Duration

	// SessionStaleTime applies to the session hook. Zero means the
	// orchestrator default.
	SessionStaleTime time.Duration

	Localization authstate.Localization
	Notify       authstate.NotifyFunc
	Logger       *slog.Logger
}

// Hooks is the polling implementation of the AuthHooks contract plus all
// optional capabilities. It also implements authstate.SessionSource so its
// own loaders gate on the session it resolves.
type Hooks struct {
	opts    Options
	session *authstate.SessionLoader

	accounts       *authstate.Loader[[]authstate.Account]
	sessions       *authstate.Loader[[]authstate.Session]
	passkeys       *authstate.Loader[[]authstate.Passkey]
	apiKeys        *authstate.Loader[[]authstate.APIKey]
	deviceSessions *authstate.Loader[[]authstate.SessionData]
	activeOrg      *authstate.Loader[authstate.Organization]
	organizations  *authstate.Loader[[]authstate.Organization]

	mu          sync.Mutex
	permissions map[string]*authstate.Loader[authstate.PermissionResult]
	invitations map[string]*authstate.Loader[authstate.Invitation]
}

var (
	_ authstate.AuthHooks          = (*Hooks)(nil)
	_ authstate.PasskeyHooks       = (*Hooks)(nil)
	_ authstate.APIKeyHooks        = (*Hooks)(nil)
	_ authstate.DeviceSessionHooks = (*Hooks)(nil)
	_ authstate.OrganizationHooks  = (*Hooks)(nil)
	_ authstate.SessionSource      = (*Hooks)(nil)
)

// NewHooks creates the polling adapter. Client and Store are required.
func NewHooks(opts Options) *Hooks {
	if opts.Client == nil || opts.Store == nil {
		panic("rest: Options requires Client and Store")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &Hooks{
		opts:        opts,
		permissions: make(map[string]*authstate.Loader[authstate.PermissionResult]),
		invitations: make(map[string]*authstate.Loader[authstate.Invitation]),
	}
	h.session = authstate.NewSessionLoader(opts.Store, keySession, opts.Client.Session, opts.SessionStaleTime, opts.Logger)

	h.accounts = newValueLoader(h, keyAccounts, sliceFetch(opts.Client.ListAccounts))
	h.sessions = newValueLoader(h, keySessions, sliceFetch(opts.Client.ListSessions))
	h.passkeys = newValueLoader(h, keyPasskeys, sliceFetch(opts.Client.ListPasskeys))
	h.apiKeys = newValueLoader(h, keyAPIKeys, sliceFetch(opts.Client.ListAPIKeys))
	h.deviceSessions = newValueLoader(h, keyDeviceSessions, sliceFetch(opts.Client.ListDeviceSessions))
	h.activeOrg = newValueLoader(h, keyActiveOrg, opts.Client.ActiveOrganization)
	h.organizations = newValueLoader(h, keyOrganizations, sliceFetch(opts.Client.ListOrganizations))
	return h
}

// sliceFetch lifts a slice-returning call into the loader's fetch shape. An
// empty (even nil) slice from a successful call still counts as data, so the
// hook settles instead of reporting pending forever.
func sliceFetch[T any](fn func(ctx context.Context) ([]T, error)) authstate.FetchFunc[[]T] {
	return func(ctx context.Context) (*[]T, error) {
		items, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return &items, nil
	}
}

// SessionState implements authstate.SessionSource.
func (h *Hooks) SessionState(ctx context.Context) (*authstate.SessionData, bool) {
	hook := h.session.Snapshot(ctx)
	return hook.Data, hook.Pending
}

// OnSessionChange drops the cached session so the next read resolves it
// fresh. Dependent hooks notice the identity change (or loss) on their next
// evaluation and invalidate themselves.
func (h *Hooks) OnSessionChange(ctx context.Context) error {
	h.session.Invalidate()
	return h.session.Refetch(ctx)
}

// Session implements authstate.AuthHooks.
func (h *Hooks) Session(ctx context.Context) authstate.AuthHook[authstate.SessionData] {
	return h.session.Snapshot(ctx)
}

// ListAccounts implements authstate.AuthHooks.
func (h *Hooks) ListAccounts(ctx context.Context) authstate.AuthHook[[]authstate.Account] {
	return h.accounts.Snapshot(ctx)
}

// ListSessions implements authstate.AuthHooks.
func (h *Hooks) ListSessions(ctx context.Context) authstate.AuthHook[[]authstate.Session] {
	return h.sessions.Snapshot(ctx)
}

// ListPasskeys implements authstate.PasskeyHooks.
func (h *Hooks) ListPasskeys(ctx context.Context) authstate.AuthHook[[]authstate.Passkey] {
	return h.passkeys.Snapshot(ctx)
}

// ListAPIKeys implements authstate.APIKeyHooks.
func (h *Hooks) ListAPIKeys(ctx context.Context) authstate.AuthHook[[]authstate.APIKey] {
	return h.apiKeys.Snapshot(ctx)
}

// ListDeviceSessions implements authstate.DeviceSessionHooks.
func (h *Hooks) ListDeviceSessions(ctx context.Context) authstate.AuthHook[[]authstate.SessionData] {
	return h.deviceSessions.Snapshot(ctx)
}

// ActiveOrganization implements authstate.OrganizationHooks.
func (h *Hooks) ActiveOrganization(ctx context.Context) authstate.AuthHook[authstate.Organization] {
	return h.activeOrg.Snapshot(ctx)
}

// ListOrganizations implements authstate.OrganizationHooks.
func (h *Hooks) ListOrganizations(ctx context.Context) authstate.AuthHook[[]authstate.Organization] {
	return h.organizations.Snapshot(ctx)
}

// HasPermission implements authstate.OrganizationHooks. Each distinct check
// gets its own cache slot.
func (h *Hooks) HasPermission(ctx context.Context, check authstate.PermissionCheck) authstate.AuthHook[authstate.PermissionResult] {
	key := permissionKey(check)

	h.mu.Lock()
	loader, ok := h.permissions[key]
	if !ok {
		loader = newValueLoader(h, key, func(ctx context.Context) (*authstate.PermissionResult, error) {
			return h.opts.Client.HasPermission(ctx, check)
		})
		h.permissions[key] = loader
	}
	h.mu.Unlock()

	return loader.Snapshot(ctx)
}

// Invitation implements authstate.OrganizationHooks.
func (h *Hooks) Invitation(ctx context.Context, invitationID string) authstate.AuthHook[authstate.Invitation] {
	key := "rest:invitation:" + invitationID

	h.mu.Lock()
	loader, ok := h.invitations[key]
	if !ok {
		loader = newValueLoader(h, key, func(ctx context.Context) (*authstate.Invitation, error) {
			return h.opts.Client.GetInvitation(ctx, invitationID)
		})
		h.invitations[key] = loader
	}
	h.mu.Unlock()

	return loader.Snapshot(ctx)
}

// newValueLoader builds a loader for a pointer-returning fetch.
func newValueLoader[T any](h *Hooks, key string, fetch authstate.FetchFunc[T]) *authstate.Loader[T] {
	return authstate.NewLoader(authstate.LoaderOptions[T]{
		Store:        h.opts.Store,
		Fetch:        fetch,
		Key:          key,
		StaleTime:    h.opts.StaleTime,
		Session:      h,
		Localization: h.opts.Localization,
		Notify:       h.opts.Notify,
		Logger:       h.opts.Logger,
	})
}

// permissionKey derives a stable cache key from a permission check.
func permissionKey(check authstate.PermissionCheck) string {
	parts := make([]string, 0, len(check.Permissions))
	for resource, actions := range check.Permissions {
		parts = append(parts, resource+"="+strings.Join(actions, "|"))
	}
	sort.Strings(parts)
	return fmt.Sprintf("rest:permission:%s:%s", check.OrganizationID, strings.Join(parts, ","))
}
