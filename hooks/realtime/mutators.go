package realtime

import (
	"context"

	"github.com/panyam/authstate"
)

// Mutators runs auth mutations through the backend's Transactor capability.
// No cache invalidation happens here: the live subscriptions push the new
// state as soon as the write commits.
type Mutators struct {
	hooks *RecordHooks
	tx    Transactor
}

var _ authstate.Mutators = (*Mutators)(nil)

// NewMutators creates transactor-backed mutators for the record adapter.
func NewMutators(hooks *RecordHooks, tx Transactor) *Mutators {
	if hooks == nil || tx == nil {
		panic("realtime: NewMutators requires hooks and a transactor")
	}
	return &Mutators{hooks: hooks, tx: tx}
}

func (m *Mutators) UpdateUser(ctx context.Context, update authstate.UserUpdate) error {
	userID := m.hooks.userID(ctx)
	if userID == "" {
		return authstate.ErrUnauthenticated
	}
	if len(update) == 0 {
		return nil
	}
	return m.tx.UpdateRecord(ctx, m.hooks.collection(authstate.NamespaceUser), userID, update)
}

func (m *Mutators) UnlinkAccount(ctx context.Context, params authstate.UnlinkAccountParams) error {
	userID := m.hooks.userID(ctx)
	if userID == "" {
		return authstate.ErrUnauthenticated
	}
	where := map[string]any{"userId": userID, "providerId": params.ProviderID}
	if params.AccountID != "" {
		where["accountId"] = params.AccountID
	}
	return m.tx.DeleteWhere(ctx, m.hooks.collection(authstate.NamespaceAccount), where)
}

func (m *Mutators) DeletePasskey(ctx context.Context, passkeyID string) error {
	userID := m.hooks.userID(ctx)
	if userID == "" {
		return authstate.ErrUnauthenticated
	}
	return m.tx.DeleteRecord(ctx, m.hooks.collection(authstate.NamespacePasskey), passkeyID)
}

func (m *Mutators) RevokeSession(ctx context.Context, sessionToken string) error {
	userID := m.hooks.userID(ctx)
	if userID == "" {
		return authstate.ErrUnauthenticated
	}
	where := map[string]any{"userId": userID, "token": sessionToken}
	return m.tx.DeleteWhere(ctx, m.hooks.collection(authstate.NamespaceSession), where)
}

func (m *Mutators) RevokeDeviceSession(ctx context.Context, sessionToken string) error {
	return m.RevokeSession(ctx, sessionToken)
}

// SetActiveSession is not expressible as a record write; session switching
// belongs to whatever owns the host's session source.
func (m *Mutators) SetActiveSession(ctx context.Context, sessionToken string) error {
	return authstate.NewError("UNSUPPORTED_OPERATION", "Session switching is not supported by this backend")
}
