package rest

import (
	"context"

	"github.com/panyam/authstate"
)

// MutationClient is the write surface the adapter needs from the auth
// backend. *client.AuthClient satisfies it.
type MutationClient interface {
	UpdateUser(ctx context.Context, update authstate.UserUpdate) error
	UnlinkAccount(ctx context.Context, params authstate.UnlinkAccountParams) error
	DeletePasskey(ctx context.Context, passkeyID string) error
	RevokeSession(ctx context.Context, sessionToken string) error
	RevokeDeviceSession(ctx context.Context, sessionToken string) error
	SetActiveSession(ctx context.Context, sessionToken string) error
}

// Mutators forwards mutations to the auth backend and, on success, clears the
// affected cache slots so the next read refetches. Errors pass through to the
// caller untouched.
type Mutators struct {
	client MutationClient
	hooks  *Hooks
}

var _ authstate.Mutators = (*Mutators)(nil)

// NewMutators creates the polling adapter's mutators. The hooks argument may
// be nil, in which case no cache invalidation is performed.
func NewMutators(client MutationClient, hooks *Hooks) *Mutators {
	return &Mutators{client: client, hooks: hooks}
}

func (m *Mutators) UpdateUser(ctx context.Context, update authstate.UserUpdate) error {
	if err := m.client.UpdateUser(ctx, update); err != nil {
		return err
	}
	m.invalidate(keySession)
	return nil
}

func (m *Mutators) UnlinkAccount(ctx context.Context, params authstate.UnlinkAccountParams) error {
	if err := m.client.UnlinkAccount(ctx, params); err != nil {
		return err
	}
	m.invalidate(keyAccounts)
	return nil
}

func (m *Mutators) DeletePasskey(ctx context.Context, passkeyID string) error {
	if err := m.client.DeletePasskey(ctx, passkeyID); err != nil {
		return err
	}
	m.invalidate(keyPasskeys)
	return nil
}

func (m *Mutators) RevokeSession(ctx context.Context, sessionToken string) error {
	if err := m.client.RevokeSession(ctx, sessionToken); err != nil {
		return err
	}
	m.invalidate(keySessions)
	return nil
}

func (m *Mutators) RevokeDeviceSession(ctx context.Context, sessionToken string) error {
	if err := m.client.RevokeDeviceSession(ctx, sessionToken); err != nil {
		return err
	}
	m.invalidate(keyDeviceSessions)
	return nil
}

func (m *Mutators) SetActiveSession(ctx context.Context, sessionToken string) error {
	if err := m.client.SetActiveSession(ctx, sessionToken); err != nil {
		return err
	}
	if m.hooks != nil {
		m.hooks.session.Invalidate()
	}
	return nil
}

func (m *Mutators) invalidate(key string) {
	if m.hooks == nil {
		return
	}
	if key == keySession {
		m.hooks.session.Invalidate()
		return
	}
	m.hooks.opts.Store.Clear(key)
}
