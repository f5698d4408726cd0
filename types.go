package authstate

import "time"

// User is the authenticated account as exposed to the UI layer.
type User struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	Name          string         `json:"name,omitempty"`
	Image         string         `json:"image,omitempty"`
	EmailVerified bool           `json:"emailVerified"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	Extra         map[string]any `json:"extra,omitempty"` // additional backend-specific fields
}

// Session is a single authenticated session record.
type Session struct {
	ID                   string    `json:"id"`
	Token                string    `json:"token"`
	UserID               string    `json:"userId"`
	ExpiresAt            time.Time `json:"expiresAt"`
	IPAddress            string    `json:"ipAddress,omitempty"`
	UserAgent            string    `json:"userAgent,omitempty"`
	ActiveOrganizationID string    `json:"activeOrganizationId,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// SessionData is the user/session pair owned by the active backend adapter.
// The orchestrator treats only User.ID as the identity-change signal.
type SessionData struct {
	User    User    `json:"user"`
	Session Session `json:"session"`
}

// Account is a linked external provider account.
type Account struct {
	AccountID string `json:"accountId"`
	Provider  string `json:"provider"`
}

// Passkey is a registered WebAuthn credential.
type Passkey struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	UserID     string    `json:"userId"`
	DeviceType string    `json:"deviceType,omitempty"`
	BackedUp   bool      `json:"backedUp"`
	CreatedAt  time.Time `json:"createdAt"`
}

// APIKey is an API key as listed in account settings. The secret is never
// part of this shape.
type APIKey struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	UserID      string     `json:"userId"`
	Start       string     `json:"start,omitempty"` // first characters, for display
	Prefix      string     `json:"prefix,omitempty"`
	Enabled     bool       `json:"enabled"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	LastRequest *time.Time `json:"lastRequest,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Organization is an organization the user belongs to.
type Organization struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	Logo        string         `json:"logo,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	Members     []Member       `json:"members,omitempty"`
	Invitations []Invitation   `json:"invitations,omitempty"`
}

// Member is a user's membership in an organization.
type Member struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	UserID         string    `json:"userId"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Invitation is a pending invitation to join an organization, enriched with
// organization display fields for invitation acceptance screens.
type Invitation struct {
	ID               string    `json:"id"`
	OrganizationID   string    `json:"organizationId"`
	Email            string    `json:"email"`
	Role             string    `json:"role"`
	Status           string    `json:"status"`
	InviterID        string    `json:"inviterId,omitempty"`
	ExpiresAt        time.Time `json:"expiresAt"`
	OrganizationName string    `json:"organizationName,omitempty"`
	OrganizationSlug string    `json:"organizationSlug,omitempty"`
	OrganizationLogo string    `json:"organizationLogo,omitempty"`
}

// PermissionCheck asks whether the current user holds the given permissions
// within an organization.
type PermissionCheck struct {
	OrganizationID string              `json:"organizationId,omitempty"`
	Permissions    map[string][]string `json:"permissions"`
}

// PermissionResult is the outcome of a permission check.
type PermissionResult struct {
	Success bool `json:"success"`
}

// UserUpdate carries the profile fields to change on the current user.
// Unknown keys are passed through to the backend untouched.
type UserUpdate map[string]any

// UnlinkAccountParams identifies the provider account to unlink.
type UnlinkAccountParams struct {
	ProviderID string `json:"providerId"`
	AccountID  string `json:"accountId,omitempty"`
}
