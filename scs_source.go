package authstate

import (
	"context"
	"log/slog"

	"github.com/alexedwards/scs/v2"
)

// SCSSessionSource resolves the current session identity from an
// alexedwards/scs session manager, for server-rendered consumers where the
// request context already carries a loaded session. The scs middleware must
// have run; outside of it there is simply no session.
type SCSSessionSource struct {
	Session *scs.SessionManager

	// UserIDKey and EmailKey are the session keys holding the signed-in
	// user's id and email. Defaults: "authUserId", "authUserEmail".
	UserIDKey string
	EmailKey  string

	// Resolve, when set, loads the full session data for the user id found
	// in the session. Without it a minimal identity (user id, email, session
	// token) is synthesized, which is enough for the orchestrator's
	// identity-change tracking.
	Resolve func(ctx context.Context, userID string) (*SessionData, error)

	Logger *slog.Logger
}

// EnsureDefaults fills in default session keys.
func (s *SCSSessionSource) EnsureDefaults() *SCSSessionSource {
	if s.UserIDKey == "" {
		s.UserIDKey = "authUserId"
	}
	if s.EmailKey == "" {
		s.EmailKey = "authUserEmail"
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	return s
}

// SessionState implements SessionSource. The scs session is already resolved
// by the time a handler runs, so pending is always false.
func (s *SCSSessionSource) SessionState(ctx context.Context) (*SessionData, bool) {
	s.EnsureDefaults()

	userID := s.Session.GetString(ctx, s.UserIDKey)
	if userID == "" {
		return nil, false
	}

	if s.Resolve != nil {
		data, err := s.Resolve(ctx, userID)
		if err != nil {
			s.Logger.Warn("failed to resolve session data", "userId", userID, "error", err)
			return nil, false
		}
		return data, false
	}

	return &SessionData{
		User: User{
			ID:    userID,
			Email: s.Session.GetString(ctx, s.EmailKey),
		},
		Session: Session{
			Token:  s.Session.Token(ctx),
			UserID: userID,
		},
	}, false
}
