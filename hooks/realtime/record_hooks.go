package realtime

import (
	"context"
	"log/slog"

	"github.com/panyam/authstate"
	"github.com/panyam/authstate/cache"
)

// RecordOptions configures the record-backed variant.
type RecordOptions struct {
	Client  Client                  // required
	Store   *cache.Store            // required; the shared cache store
	Session authstate.SessionSource // required; the host's outer session

	// Models maps namespaces to collection names.
	Models authstate.ModelConfig

	Logger *slog.Logger
}

// RecordHooks implements the contract over a realtime client for hosts that
// already know their session (a cookie session, an embedded token store).
// Queries are gated on the supplied session source; the user record itself
// is still watched live so profile edits stream in.
type RecordHooks struct {
	opts RecordOptions

	user     *subscription
	accounts *subscription
	sessions *subscription
	passkeys *subscription
	apiKeys  *subscription
}

var (
	_ authstate.AuthHooks    = (*RecordHooks)(nil)
	_ authstate.PasskeyHooks = (*RecordHooks)(nil)
	_ authstate.APIKeyHooks  = (*RecordHooks)(nil)
)

// NewRecordHooks creates the record-backed realtime adapter. Client, Store
// and Session are required.
func NewRecordHooks(opts RecordOptions) *RecordHooks {
	if opts.Client == nil || opts.Store == nil || opts.Session == nil {
		panic("realtime: RecordOptions requires Client, Store and Session")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &RecordHooks{opts: opts}
	h.user = newSubscription(opts.Client, opts.Store, keySession, userTransform, opts.Logger)
	h.accounts = newSubscription(opts.Client, opts.Store, keyAccounts, sliceTransform(accountFromRecord), opts.Logger)
	h.sessions = newSubscription(opts.Client, opts.Store, keySessions, sliceTransform(sessionFromRecord), opts.Logger)
	h.passkeys = newSubscription(opts.Client, opts.Store, keyPasskeys, sliceTransform(passkeyFromRecord), opts.Logger)
	h.apiKeys = newSubscription(opts.Client, opts.Store, keyAPIKeys, sliceTransform(apiKeyFromRecord), opts.Logger)
	return h
}

// Close releases every live subscription synchronously and drops the cached
// results they owned.
func (h *RecordHooks) Close() {
	for _, sub := range h.subs() {
		sub.Close()
	}
}

// OnSessionChange releases every subscription and its cached results; the
// next reads re-arm against whatever the session source now reports.
func (h *RecordHooks) OnSessionChange(ctx context.Context) error {
	for _, sub := range h.subs() {
		sub.Close()
	}
	h.Session(ctx)
	return nil
}

// Session implements authstate.AuthHooks. The session half comes from the
// host's session source; the user half prefers the live record when present.
func (h *RecordHooks) Session(ctx context.Context) authstate.AuthHook[authstate.SessionData] {
	known, pending := h.opts.Session.SessionState(ctx)
	if known == nil || known.User.ID == "" {
		h.user.Ensure(ctx, nil)
		return authstate.AuthHook[authstate.SessionData]{Pending: pending, Refetch: h.user.Rearm}
	}

	h.user.Ensure(ctx, &Query{
		Collection: h.collection(authstate.NamespaceUser),
		Where:      map[string]any{"id": known.User.ID},
		Limit:      1,
	})

	userHook := subHook[authstate.User](h.user)
	data := *known
	if userHook.Data != nil && userHook.Data.ID == known.User.ID {
		data.User = *userHook.Data
	}
	return authstate.AuthHook[authstate.SessionData]{
		Data:       &data,
		Pending:    pending || userHook.Pending,
		Refetching: userHook.Refetching,
		Err:        userHook.Err,
		Refetch:    h.user.Rearm,
	}
}

// ListAccounts implements authstate.AuthHooks.
func (h *RecordHooks) ListAccounts(ctx context.Context) authstate.AuthHook[[]authstate.Account] {
	return recordList[authstate.Account](ctx, h, h.accounts, authstate.NamespaceAccount)
}

// ListSessions implements authstate.AuthHooks.
func (h *RecordHooks) ListSessions(ctx context.Context) authstate.AuthHook[[]authstate.Session] {
	return recordList[authstate.Session](ctx, h, h.sessions, authstate.NamespaceSession)
}

// ListPasskeys implements authstate.PasskeyHooks.
func (h *RecordHooks) ListPasskeys(ctx context.Context) authstate.AuthHook[[]authstate.Passkey] {
	return recordList[authstate.Passkey](ctx, h, h.passkeys, authstate.NamespacePasskey)
}

// ListAPIKeys implements authstate.APIKeyHooks.
func (h *RecordHooks) ListAPIKeys(ctx context.Context) authstate.AuthHook[[]authstate.APIKey] {
	return recordList[authstate.APIKey](ctx, h, h.apiKeys, authstate.NamespaceAPIKey)
}

func (h *RecordHooks) subs() []*subscription {
	return []*subscription{h.user, h.accounts, h.sessions, h.passkeys, h.apiKeys}
}

func (h *RecordHooks) collection(ns authstate.Namespace) string {
	return h.opts.Models.ModelName(ns)
}

// userID returns the signed-in user's id, or "" when signed out or still
// pending.
func (h *RecordHooks) userID(ctx context.Context) string {
	data, _ := h.opts.Session.SessionState(ctx)
	if data == nil {
		return ""
	}
	return data.User.ID
}

func userTransform(records []Record) any {
	if len(records) == 0 {
		return nil
	}
	u := userFromRecord(records[0])
	return &u
}

// recordList arms a userId-filtered collection query and snapshots it.
func recordList[T any](ctx context.Context, h *RecordHooks, sub *subscription, ns authstate.Namespace) authstate.AuthHook[[]T] {
	known, pending := h.opts.Session.SessionState(ctx)
	if known == nil || known.User.ID == "" {
		sub.Ensure(ctx, nil)
		return authstate.AuthHook[[]T]{Pending: pending, Refetch: sub.Rearm}
	}
	sub.Ensure(ctx, &Query{
		Collection: h.collection(ns),
		Where:      map[string]any{"userId": known.User.ID},
	})
	hook := subHook[[]T](sub)
	hook.Pending = hook.Pending || pending
	return hook
}
