// Package authstate provides the client-side data layer for authentication
// UIs: a process-shared cache of fetched auth data, a fetch orchestrator that
// keeps that cache fresh as the signed-in user changes, and a uniform hook
// contract that heterogeneous backends are adapted into.
//
// # Architecture
//
// Cache Store: a keyed in-memory store (package cache) holding the last
// fetched value per logical query together with its timestamp, a refetching
// flag, per-key change subscribers, and an in-flight request registry that
// guarantees at most one outstanding fetch per key.
//
// Loader: the consumer-facing orchestrator. A Loader ties one fetch function
// to one cache key, re-evaluates a fixed decision table on session changes and
// reads (fetch when uninitialized, missing, user-changed, or stale), and
// exposes {Data, Pending, Refetching, Err, Refetch}.
//
// AuthHooks: the contract every backend adapter produces. Required hooks are
// Session, ListAccounts and ListSessions; optional capabilities (passkeys,
// API keys, device sessions, organizations) are separate interfaces
// discovered by type assertion.
//
// # Backend Adapters
//
// Three adapter families are included:
//
//	hooks/rest      polling adapter over the generic HTTP client in package
//	                client; pairs with Loader for caching
//	hooks/gormq     managed-query adapter over a GORM handle with tagged
//	                queries, mutation-driven invalidation and a session-change
//	                handler
//	hooks/realtime  subscription adapters (token-claims gated and record
//	                based) over a realtime client capability; hooks/gae
//	                implements that capability on Google Cloud Datastore
//
// # Basic Usage
//
// Construct the shared pieces once at application startup:
//
//	store := cache.NewStore()
//	ac := client.NewAuthClient("https://yourapp.com", client.NewMemoryCredentialStore())
//	hooks := rest.NewHooks(rest.Options{Client: ac, Store: store})
//
//	provider := &authstate.Provider{
//	    Store:    store,
//	    Hooks:    hooks,
//	    Mutators: rest.NewMutators(ac, hooks),
//	    Notify: func(t authstate.Toast) {
//	        // surface t.Message to the user
//	    },
//	}
//	provider.EnsureDefaults()
//
// UI code then reads hook snapshots:
//
//	h := provider.Hooks.ListAccounts(ctx)
//	if h.Pending {
//	    // render spinner
//	}
//
// All fetch failures are captured into the hook's Err and surfaced through
// the provider's Notify callback; they are never thrown across the read path.
package authstate
