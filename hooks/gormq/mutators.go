package gormq

import (
	"context"
	"fmt"
	"time"

	"github.com/panyam/authstate"
)

// Mutators runs auth mutations as GORM writes against the same tables the
// hooks query. Each mutation invalidates its dependent tags on success; on
// failure the error is returned and nothing is invalidated.
type Mutators struct {
	hooks *Hooks
}

var _ authstate.Mutators = (*Mutators)(nil)

// NewMutators creates mutators bound to the adapter's database handle and
// cache.
func NewMutators(hooks *Hooks) *Mutators {
	if hooks == nil {
		panic("gormq: NewMutators requires hooks")
	}
	return &Mutators{hooks: hooks}
}

func (m *Mutators) UpdateUser(ctx context.Context, update authstate.UserUpdate) error {
	h := m.hooks
	userID, err := h.currentUserID(ctx)
	if err != nil {
		return err
	}
	if len(update) == 0 {
		return nil
	}

	columns := make(map[string]any, len(update)+1)
	for key, value := range update {
		columns[key] = value
	}
	columns["updated_at"] = time.Now()

	if err := h.q(ctx, authstate.NamespaceUser).Where("id = ?", userID).Updates(columns).Error; err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	h.session.Invalidate()
	return nil
}

func (m *Mutators) UnlinkAccount(ctx context.Context, params authstate.UnlinkAccountParams) error {
	h := m.hooks
	userID, err := h.currentUserID(ctx)
	if err != nil {
		return err
	}

	q := h.q(ctx, authstate.NamespaceAccount).Where("user_id = ? AND provider_id = ?", userID, params.ProviderID)
	if params.AccountID != "" {
		q = q.Where("account_id = ?", params.AccountID)
	}
	if err := q.Delete(&AccountModel{}).Error; err != nil {
		return fmt.Errorf("unlink account: %w", err)
	}
	h.opts.Store.Clear(TagAccounts)
	return nil
}

func (m *Mutators) DeletePasskey(ctx context.Context, passkeyID string) error {
	h := m.hooks
	userID, err := h.currentUserID(ctx)
	if err != nil {
		return err
	}
	err = h.q(ctx, authstate.NamespacePasskey).
		Where("id = ? AND user_id = ?", passkeyID, userID).
		Delete(&PasskeyModel{}).Error
	if err != nil {
		return fmt.Errorf("delete passkey: %w", err)
	}
	h.opts.Store.Clear(TagPasskeys)
	return nil
}

func (m *Mutators) RevokeSession(ctx context.Context, sessionToken string) error {
	h := m.hooks
	userID, err := h.currentUserID(ctx)
	if err != nil {
		return err
	}
	err = h.q(ctx, authstate.NamespaceSession).
		Where("token = ? AND user_id = ?", sessionToken, userID).
		Delete(&SessionModel{}).Error
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	h.opts.Store.Clear(TagSessions)
	return nil
}

func (m *Mutators) RevokeDeviceSession(ctx context.Context, sessionToken string) error {
	h := m.hooks
	userID, err := h.currentUserID(ctx)
	if err != nil {
		return err
	}
	err = h.q(ctx, authstate.NamespaceSession).
		Where("token = ? AND user_id = ?", sessionToken, userID).
		Delete(&SessionModel{}).Error
	if err != nil {
		return fmt.Errorf("revoke device session: %w", err)
	}
	h.opts.Store.Clear(TagDeviceSessions)
	return nil
}

// SetActiveSession switches the adapter's current token after verifying the
// target session belongs to the same user and is still live.
func (m *Mutators) SetActiveSession(ctx context.Context, sessionToken string) error {
	h := m.hooks
	userID, err := h.currentUserID(ctx)
	if err != nil {
		return err
	}

	var count int64
	err = h.q(ctx, authstate.NamespaceSession).
		Where("token = ? AND user_id = ? AND expires_at > ?", sessionToken, userID, time.Now()).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("set active session: %w", err)
	}
	if count == 0 {
		return authstate.NewError("SESSION_NOT_FOUND", "Session not found or expired")
	}

	h.UseSessionToken(sessionToken)
	h.session.Invalidate()
	return nil
}
