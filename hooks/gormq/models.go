package gormq

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/panyam/authstate"
)

// JSONMap stores a JSON object column.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// UserModel is the GORM model for users.
type UserModel struct {
	ID            string    `gorm:"primaryKey;size:64"`
	Email         string    `gorm:"size:320;index"`
	Name          string    `gorm:"size:255"`
	Image         string    `gorm:"size:1024"`
	EmailVerified bool      `gorm:"default:false"`
	Extra         JSONMap   `gorm:"type:jsonb"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (m *UserModel) ToUser() authstate.User {
	return authstate.User{
		ID:            m.ID,
		Email:         m.Email,
		Name:          m.Name,
		Image:         m.Image,
		EmailVerified: m.EmailVerified,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		Extra:         m.Extra,
	}
}

// SessionModel is the GORM model for sessions.
type SessionModel struct {
	ID                   string    `gorm:"primaryKey;size:64"`
	Token                string    `gorm:"size:128;uniqueIndex"`
	UserID               string    `gorm:"size:64;index"`
	ExpiresAt            time.Time
	IPAddress            string    `gorm:"size:64"`
	UserAgent            string    `gorm:"size:512"`
	ActiveOrganizationID string    `gorm:"size:64"`
	CreatedAt            time.Time `gorm:"autoCreateTime"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime"`
}

func (m *SessionModel) ToSession() authstate.Session {
	return authstate.Session{
		ID:                   m.ID,
		Token:                m.Token,
		UserID:               m.UserID,
		ExpiresAt:            m.ExpiresAt,
		IPAddress:            m.IPAddress,
		UserAgent:            m.UserAgent,
		ActiveOrganizationID: m.ActiveOrganizationID,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

// AccountModel is the GORM model for linked provider accounts.
type AccountModel struct {
	ID         string    `gorm:"primaryKey;size:64"`
	UserID     string    `gorm:"size:64;index"`
	AccountID  string    `gorm:"size:255"`
	ProviderID string    `gorm:"size:64"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (m *AccountModel) ToAccount() authstate.Account {
	return authstate.Account{
		AccountID: m.AccountID,
		Provider:  m.ProviderID,
	}
}

// PasskeyModel is the GORM model for WebAuthn credentials.
type PasskeyModel struct {
	ID         string    `gorm:"primaryKey;size:64"`
	UserID     string    `gorm:"size:64;index"`
	Name       string    `gorm:"size:255"`
	DeviceType string    `gorm:"size:32"`
	BackedUp   bool      `gorm:"default:false"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (m *PasskeyModel) ToPasskey() authstate.Passkey {
	return authstate.Passkey{
		ID:         m.ID,
		Name:       m.Name,
		UserID:     m.UserID,
		DeviceType: m.DeviceType,
		BackedUp:   m.BackedUp,
		CreatedAt:  m.CreatedAt,
	}
}

// APIKeyModel is the GORM model for API keys. The key secret is stored
// elsewhere; this table only carries display metadata.
type APIKeyModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	UserID      string `gorm:"size:64;index"`
	Name        string `gorm:"size:255"`
	Start       string `gorm:"size:16"`
	Prefix      string `gorm:"size:16"`
	Enabled     bool   `gorm:"default:true"`
	ExpiresAt   *time.Time
	LastRequest *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (m *APIKeyModel) ToAPIKey() authstate.APIKey {
	return authstate.APIKey{
		ID:          m.ID,
		Name:        m.Name,
		UserID:      m.UserID,
		Start:       m.Start,
		Prefix:      m.Prefix,
		Enabled:     m.Enabled,
		ExpiresAt:   m.ExpiresAt,
		LastRequest: m.LastRequest,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// OrganizationModel is the GORM model for organizations.
type OrganizationModel struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Name      string    `gorm:"size:255"`
	Slug      string    `gorm:"size:255;uniqueIndex"`
	Logo      string    `gorm:"size:1024"`
	Metadata  JSONMap   `gorm:"type:jsonb"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (m *OrganizationModel) ToOrganization() authstate.Organization {
	return authstate.Organization{
		ID:        m.ID,
		Name:      m.Name,
		Slug:      m.Slug,
		Logo:      m.Logo,
		Metadata:  m.Metadata,
		CreatedAt: m.CreatedAt,
	}
}

// MemberModel is the GORM model for organization memberships.
type MemberModel struct {
	ID             string    `gorm:"primaryKey;size:64"`
	OrganizationID string    `gorm:"size:64;index"`
	UserID         string    `gorm:"size:64;index"`
	Role           string    `gorm:"size:64"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

func (m *MemberModel) ToMember() authstate.Member {
	return authstate.Member{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		UserID:         m.UserID,
		Role:           m.Role,
		CreatedAt:      m.CreatedAt,
	}
}

// InvitationModel is the GORM model for organization invitations.
type InvitationModel struct {
	ID             string    `gorm:"primaryKey;size:64"`
	OrganizationID string    `gorm:"size:64;index"`
	Email          string    `gorm:"size:320;index"`
	Role           string    `gorm:"size:64"`
	Status         string    `gorm:"size:32"`
	InviterID      string    `gorm:"size:64"`
	ExpiresAt      time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

func (m *InvitationModel) ToInvitation() authstate.Invitation {
	return authstate.Invitation{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		Email:          m.Email,
		Role:           m.Role,
		Status:         m.Status,
		InviterID:      m.InviterID,
		ExpiresAt:      m.ExpiresAt,
	}
}

// AutoMigrate runs database migrations for all auth tables, honoring the
// shared naming configuration.
func AutoMigrate(db *gorm.DB, models authstate.ModelConfig) error {
	tables := []struct {
		ns    authstate.Namespace
		model any
	}{
		{authstate.NamespaceUser, &UserModel{}},
		{authstate.NamespaceSession, &SessionModel{}},
		{authstate.NamespaceAccount, &AccountModel{}},
		{authstate.NamespacePasskey, &PasskeyModel{}},
		{authstate.NamespaceAPIKey, &APIKeyModel{}},
		{authstate.NamespaceOrganization, &OrganizationModel{}},
		{authstate.NamespaceMember, &MemberModel{}},
		{authstate.NamespaceInvitation, &InvitationModel{}},
	}
	for _, t := range tables {
		if err := db.Table(models.ModelName(t.ns)).AutoMigrate(t.model); err != nil {
			return err
		}
	}
	return nil
}
