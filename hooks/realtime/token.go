package realtime

import (
	"log/slog"

	"github.com/golang-jwt/jwt/v5"
)

// tokenSubject extracts the subject claim from a bearer token without
// verifying its signature. This only decides which records the adapter asks
// for; the backend still enforces access on every query, so it is a read
// gate, not a security boundary. Malformed or subject-less tokens yield ""
// and the caller skips the query.
func tokenSubject(token string, logger *slog.Logger) string {
	if token == "" {
		return ""
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		if logger != nil {
			logger.Debug("token decode failed", "error", err)
		}
		return ""
	}
	return claims.Subject
}
