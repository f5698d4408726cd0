package realtime

import (
	"context"
	"log/slog"

	"github.com/panyam/authstate"
	"github.com/panyam/authstate/cache"
)

// Cache keys for the adapter's subscriptions.
const (
	keySession  = "realtime:session"
	keyAccounts = "realtime:accounts"
	keySessions = "realtime:sessions"
	keyPasskeys = "realtime:passkeys"
	keyAPIKeys  = "realtime:api-keys"
)

// TokenOptions configures the token-gated variant.
type TokenOptions struct {
	Client Client       // required
	Store  *cache.Store // required; the shared cache store

	// Models maps namespaces to collection names.
	Models authstate.ModelConfig

	// SessionData supplies the session half known to the host (its cookie
	// or token session). May be nil. The user half always tracks the live
	// user record named by the token's subject.
	SessionData func() *authstate.SessionData

	Logger *slog.Logger
}

// TokenHooks implements the contract over a realtime client, gating every
// query on the subject claim of the client's current bearer token. No token,
// or a token without a subject, reads as signed out.
type TokenHooks struct {
	opts TokenOptions

	session  *subscription
	accounts *subscription
	sessions *subscription
	passkeys *subscription
	apiKeys  *subscription
}

var (
	_ authstate.AuthHooks     = (*TokenHooks)(nil)
	_ authstate.PasskeyHooks  = (*TokenHooks)(nil)
	_ authstate.APIKeyHooks   = (*TokenHooks)(nil)
	_ authstate.SessionSource = (*TokenHooks)(nil)
)

// NewTokenHooks creates the token-gated realtime adapter. Client and Store
// are required.
func NewTokenHooks(opts TokenOptions) *TokenHooks {
	if opts.Client == nil || opts.Store == nil {
		panic("realtime: TokenOptions requires Client and Store")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &TokenHooks{opts: opts}
	h.session = newSubscription(opts.Client, opts.Store, keySession, h.mergeSession, opts.Logger)
	h.accounts = newSubscription(opts.Client, opts.Store, keyAccounts, sliceTransform(accountFromRecord), opts.Logger)
	h.sessions = newSubscription(opts.Client, opts.Store, keySessions, sliceTransform(sessionFromRecord), opts.Logger)
	h.passkeys = newSubscription(opts.Client, opts.Store, keyPasskeys, sliceTransform(passkeyFromRecord), opts.Logger)
	h.apiKeys = newSubscription(opts.Client, opts.Store, keyAPIKeys, sliceTransform(apiKeyFromRecord), opts.Logger)
	return h
}

// Close releases every live subscription synchronously and drops the cached
// results they owned.
func (h *TokenHooks) Close() {
	for _, sub := range h.subs() {
		sub.Close()
	}
}

// OnSessionChange releases every subscription and its cached results so
// nothing from the previous identity survives, then arms the session query
// against the new token immediately.
func (h *TokenHooks) OnSessionChange(ctx context.Context) error {
	for _, sub := range h.subs() {
		sub.Close()
	}
	h.Session(ctx)
	return nil
}

// SessionState implements authstate.SessionSource.
func (h *TokenHooks) SessionState(ctx context.Context) (*authstate.SessionData, bool) {
	hook := h.Session(ctx)
	return hook.Data, hook.Pending
}

// Session implements authstate.AuthHooks. The user record is watched live;
// the session half comes from SessionData when the host supplies one.
func (h *TokenHooks) Session(ctx context.Context) authstate.AuthHook[authstate.SessionData] {
	subject := h.subject()
	if subject == "" {
		h.session.Ensure(ctx, nil)
		return authstate.AuthHook[authstate.SessionData]{Refetch: h.session.Rearm}
	}
	h.session.Ensure(ctx, &Query{
		Collection: h.collection(authstate.NamespaceUser),
		Where:      map[string]any{"id": subject},
		Limit:      1,
	})
	return subHook[authstate.SessionData](h.session)
}

// ListAccounts implements authstate.AuthHooks.
func (h *TokenHooks) ListAccounts(ctx context.Context) authstate.AuthHook[[]authstate.Account] {
	return tokenList[authstate.Account](ctx, h, h.accounts, authstate.NamespaceAccount)
}

// ListSessions implements authstate.AuthHooks.
func (h *TokenHooks) ListSessions(ctx context.Context) authstate.AuthHook[[]authstate.Session] {
	return tokenList[authstate.Session](ctx, h, h.sessions, authstate.NamespaceSession)
}

// ListPasskeys implements authstate.PasskeyHooks.
func (h *TokenHooks) ListPasskeys(ctx context.Context) authstate.AuthHook[[]authstate.Passkey] {
	return tokenList[authstate.Passkey](ctx, h, h.passkeys, authstate.NamespacePasskey)
}

// ListAPIKeys implements authstate.APIKeyHooks.
func (h *TokenHooks) ListAPIKeys(ctx context.Context) authstate.AuthHook[[]authstate.APIKey] {
	return tokenList[authstate.APIKey](ctx, h, h.apiKeys, authstate.NamespaceAPIKey)
}

func (h *TokenHooks) subs() []*subscription {
	return []*subscription{h.session, h.accounts, h.sessions, h.passkeys, h.apiKeys}
}

func (h *TokenHooks) subject() string {
	return tokenSubject(h.opts.Client.Token(), h.opts.Logger)
}

func (h *TokenHooks) collection(ns authstate.Namespace) string {
	return h.opts.Models.ModelName(ns)
}

// mergeSession combines the live user record with the host-supplied session
// half. No record and no known session reads as signed out.
func (h *TokenHooks) mergeSession(records []Record) any {
	var known *authstate.SessionData
	if h.opts.SessionData != nil {
		known = h.opts.SessionData()
	}
	var user *authstate.User
	if len(records) > 0 {
		u := userFromRecord(records[0])
		user = &u
	}
	if user == nil && known == nil {
		return nil
	}

	out := &authstate.SessionData{}
	if known != nil {
		*out = *known
	}
	if user != nil && (known == nil || known.User.ID == "" || known.User.ID == user.ID) {
		out.User = *user
	}
	if out.Session.UserID == "" {
		out.Session.UserID = out.User.ID
	}
	return out
}

// tokenList arms a userId-filtered collection query and snapshots it.
func tokenList[T any](ctx context.Context, h *TokenHooks, sub *subscription, ns authstate.Namespace) authstate.AuthHook[[]T] {
	subject := h.subject()
	if subject == "" {
		sub.Ensure(ctx, nil)
		return authstate.AuthHook[[]T]{Refetch: sub.Rearm}
	}
	sub.Ensure(ctx, &Query{
		Collection: h.collection(ns),
		Where:      map[string]any{"userId": subject},
	})
	return subHook[[]T](sub)
}
