package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/panyam/authstate"
)

// apiEnvelope is the response wrapper the auth backend uses. Error responses
// carry code/message either at the top level or nested under "error".
type apiEnvelope struct {
	Code    string           `json:"code,omitempty"`
	Message string           `json:"message,omitempty"`
	Error   *authstate.Error `json:"error,omitempty"`
}

// do issues one JSON request against the auth API and decodes the response
// into out (which may be nil). Non-2xx responses and error envelopes are
// normalized into *authstate.Error.
func (c *AuthClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+c.basePath+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &authstate.Error{Code: authstate.CodeRequestFailed, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &authstate.Error{Code: authstate.CodeRequestFailed, Message: err.Error(), Status: resp.StatusCode}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope apiEnvelope
		// A non-JSON error body still maps to the generic failure code.
		_ = json.Unmarshal(respBody, &envelope)
		if envelope.Error != nil {
			envelope.Error.Status = resp.StatusCode
			return envelope.Error
		}
		apiErr := &authstate.Error{Code: envelope.Code, Message: envelope.Message, Status: resp.StatusCode}
		if apiErr.Code == "" {
			apiErr.Code = authstate.CodeRequestFailed
		}
		return apiErr
	}

	if out != nil && len(respBody) > 0 && !bytes.Equal(bytes.TrimSpace(respBody), []byte("null")) {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("invalid response from server: %w", err)
		}
	}
	return nil
}

// Session returns the current user/session pair, or nil when unauthenticated.
func (c *AuthClient) Session(ctx context.Context) (*authstate.SessionData, error) {
	var data authstate.SessionData
	if err := c.do(ctx, http.MethodGet, "/get-session", nil, &data); err != nil {
		return nil, err
	}
	if data.User.ID == "" {
		return nil, nil
	}
	return &data, nil
}

// ListAccounts returns the provider accounts linked to the current user.
func (c *AuthClient) ListAccounts(ctx context.Context) ([]authstate.Account, error) {
	var accounts []authstate.Account
	if err := c.do(ctx, http.MethodGet, "/list-accounts", nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// ListSessions returns the current user's active sessions.
func (c *AuthClient) ListSessions(ctx context.Context) ([]authstate.Session, error) {
	var sessions []authstate.Session
	if err := c.do(ctx, http.MethodGet, "/list-sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListPasskeys returns the current user's registered passkeys.
func (c *AuthClient) ListPasskeys(ctx context.Context) ([]authstate.Passkey, error) {
	var passkeys []authstate.Passkey
	if err := c.do(ctx, http.MethodGet, "/passkey/list-user-passkeys", nil, &passkeys); err != nil {
		return nil, err
	}
	return passkeys, nil
}

// ListAPIKeys returns the current user's API keys.
func (c *AuthClient) ListAPIKeys(ctx context.Context) ([]authstate.APIKey, error) {
	var keys []authstate.APIKey
	if err := c.do(ctx, http.MethodGet, "/api-key/list", nil, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// ListDeviceSessions returns every signed-in session on this device
// (multi-session support).
func (c *AuthClient) ListDeviceSessions(ctx context.Context) ([]authstate.SessionData, error) {
	var sessions []authstate.SessionData
	if err := c.do(ctx, http.MethodGet, "/multi-session/list-device-sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ActiveOrganization returns the organization active on the current session,
// or nil when none is set.
func (c *AuthClient) ActiveOrganization(ctx context.Context) (*authstate.Organization, error) {
	var org authstate.Organization
	if err := c.do(ctx, http.MethodGet, "/organization/get-full-organization", nil, &org); err != nil {
		return nil, err
	}
	if org.ID == "" {
		return nil, nil
	}
	return &org, nil
}

// ListOrganizations returns the organizations the current user belongs to.
func (c *AuthClient) ListOrganizations(ctx context.Context) ([]authstate.Organization, error) {
	var orgs []authstate.Organization
	if err := c.do(ctx, http.MethodGet, "/organization/list", nil, &orgs); err != nil {
		return nil, err
	}
	return orgs, nil
}

// HasPermission checks organization permissions for the current user.
func (c *AuthClient) HasPermission(ctx context.Context, check authstate.PermissionCheck) (*authstate.PermissionResult, error) {
	var result authstate.PermissionResult
	if err := c.do(ctx, http.MethodPost, "/organization/has-permission", check, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetInvitation fetches one organization invitation by id.
func (c *AuthClient) GetInvitation(ctx context.Context, invitationID string) (*authstate.Invitation, error) {
	var inv authstate.Invitation
	params := map[string]string{"id": invitationID}
	if err := c.do(ctx, http.MethodPost, "/organization/get-invitation", params, &inv); err != nil {
		return nil, err
	}
	if inv.ID == "" {
		return nil, nil
	}
	return &inv, nil
}

// UpdateUser updates profile fields on the current user.
func (c *AuthClient) UpdateUser(ctx context.Context, update authstate.UserUpdate) error {
	return c.do(ctx, http.MethodPost, "/update-user", update, nil)
}

// UnlinkAccount unlinks a provider account from the current user.
func (c *AuthClient) UnlinkAccount(ctx context.Context, params authstate.UnlinkAccountParams) error {
	return c.do(ctx, http.MethodPost, "/unlink-account", params, nil)
}

// DeletePasskey removes a registered passkey.
func (c *AuthClient) DeletePasskey(ctx context.Context, passkeyID string) error {
	return c.do(ctx, http.MethodPost, "/passkey/delete-passkey", map[string]string{"id": passkeyID}, nil)
}

// RevokeSession revokes one of the current user's sessions by token.
func (c *AuthClient) RevokeSession(ctx context.Context, sessionToken string) error {
	return c.do(ctx, http.MethodPost, "/revoke-session", map[string]string{"token": sessionToken}, nil)
}

// RevokeDeviceSession revokes one device session by token.
func (c *AuthClient) RevokeDeviceSession(ctx context.Context, sessionToken string) error {
	return c.do(ctx, http.MethodPost, "/multi-session/revoke", map[string]string{"sessionToken": sessionToken}, nil)
}

// SetActiveSession switches the active session on this device.
func (c *AuthClient) SetActiveSession(ctx context.Context, sessionToken string) error {
	return c.do(ctx, http.MethodPost, "/multi-session/set-active", map[string]string{"sessionToken": sessionToken}, nil)
}
