package realtime

import (
	"github.com/panyam/authstate"
)

// Record field names follow the camelCase schema the auth backends use.

func userFromRecord(r Record) authstate.User {
	return authstate.User{
		ID:            r.String("id"),
		Email:         r.String("email"),
		Name:          r.String("name"),
		Image:         r.String("image"),
		EmailVerified: r.Bool("emailVerified"),
		CreatedAt:     r.Time("createdAt"),
		UpdatedAt:     r.Time("updatedAt"),
	}
}

func sessionFromRecord(r Record) authstate.Session {
	return authstate.Session{
		ID:                   r.String("id"),
		Token:                r.String("token"),
		UserID:               r.String("userId"),
		ExpiresAt:            r.Time("expiresAt"),
		IPAddress:            r.String("ipAddress"),
		UserAgent:            r.String("userAgent"),
		ActiveOrganizationID: r.String("activeOrganizationId"),
		CreatedAt:            r.Time("createdAt"),
		UpdatedAt:            r.Time("updatedAt"),
	}
}

func accountFromRecord(r Record) authstate.Account {
	return authstate.Account{
		AccountID: r.String("accountId"),
		Provider:  r.String("providerId"),
	}
}

func passkeyFromRecord(r Record) authstate.Passkey {
	return authstate.Passkey{
		ID:         r.String("id"),
		Name:       r.String("name"),
		UserID:     r.String("userId"),
		DeviceType: r.String("deviceType"),
		BackedUp:   r.Bool("backedUp"),
		CreatedAt:  r.Time("createdAt"),
	}
}

func apiKeyFromRecord(r Record) authstate.APIKey {
	key := authstate.APIKey{
		ID:        r.String("id"),
		Name:      r.String("name"),
		UserID:    r.String("userId"),
		Start:     r.String("start"),
		Prefix:    r.String("prefix"),
		Enabled:   r.Bool("enabled"),
		CreatedAt: r.Time("createdAt"),
		UpdatedAt: r.Time("updatedAt"),
	}
	if t := r.Time("expiresAt"); !t.IsZero() {
		key.ExpiresAt = &t
	}
	if t := r.Time("lastRequest"); !t.IsZero() {
		key.LastRequest = &t
	}
	return key
}

func sliceTransform[T any](convert func(Record) T) func([]Record) any {
	return func(records []Record) any {
		items := make([]T, 0, len(records))
		for _, r := range records {
			items = append(items, convert(r))
		}
		return &items
	}
}
