package authstate

import "context"

// AuthHook is the uniform shape every hook returns. Pending is true only
// while no usable data exists yet and no error has been recorded; once either
// is present, background updates report Refetching instead.
type AuthHook[T any] struct {
	Data       *T
	Pending    bool
	Refetching bool
	Err        error

	// Refetch forces a refresh. Adapters backed by live subscriptions may
	// leave it nil; callers must tolerate absence.
	Refetch func(ctx context.Context) error
}

// AuthHooks is the contract every backend adapter must satisfy. Each method
// returns the current snapshot for its query; calling a method may start or
// join a fetch but never blocks on one.
type AuthHooks interface {
	Session(ctx context.Context) AuthHook[SessionData]
	ListAccounts(ctx context.Context) AuthHook[[]Account]
	ListSessions(ctx context.Context) AuthHook[[]Session]
}

// PasskeyHooks is implemented by adapters whose backend supports passkeys.
type PasskeyHooks interface {
	ListPasskeys(ctx context.Context) AuthHook[[]Passkey]
}

// APIKeyHooks is implemented by adapters whose backend supports API keys.
type APIKeyHooks interface {
	ListAPIKeys(ctx context.Context) AuthHook[[]APIKey]
}

// DeviceSessionHooks is implemented by adapters whose backend supports
// multi-session (device) listings.
type DeviceSessionHooks interface {
	ListDeviceSessions(ctx context.Context) AuthHook[[]SessionData]
}

// OrganizationHooks is implemented by adapters whose backend supports
// organizations.
type OrganizationHooks interface {
	ActiveOrganization(ctx context.Context) AuthHook[Organization]
	ListOrganizations(ctx context.Context) AuthHook[[]Organization]
	HasPermission(ctx context.Context, check PermissionCheck) AuthHook[PermissionResult]
	Invitation(ctx context.Context, invitationID string) AuthHook[Invitation]
}

// Mutators are the write operations backing the account settings UI. Errors
// are returned to the caller, not captured, so the caller's own handling
// (typically a toast) fires exactly once.
type Mutators interface {
	UpdateUser(ctx context.Context, update UserUpdate) error
	UnlinkAccount(ctx context.Context, params UnlinkAccountParams) error
	DeletePasskey(ctx context.Context, passkeyID string) error
	RevokeSession(ctx context.Context, sessionToken string) error
	RevokeDeviceSession(ctx context.Context, sessionToken string) error
	SetActiveSession(ctx context.Context, sessionToken string) error
}

// SessionSource supplies the current session identity to loaders. Pending is
// true while the outer session resolution step has not completed yet.
type SessionSource interface {
	SessionState(ctx context.Context) (data *SessionData, pending bool)
}

// SessionSourceFunc adapts a function to the SessionSource interface.
type SessionSourceFunc func(ctx context.Context) (*SessionData, bool)

func (f SessionSourceFunc) SessionState(ctx context.Context) (*SessionData, bool) {
	return f(ctx)
}

// StaticSessionSource is a SessionSource with a fixed, already-resolved
// session. Useful in tests and for adapters that receive session data from an
// outer resolution step.
type StaticSessionSource struct {
	Data *SessionData
}

func (s *StaticSessionSource) SessionState(ctx context.Context) (*SessionData, bool) {
	return s.Data, false
}
