package authstate

import "errors"

// Localization maps backend error codes to human-readable messages. Codes are
// SNAKE_CASE strings as reported by backends.
type Localization map[string]string

// DefaultLocalization covers the codes the library itself produces plus the
// common auth failures. Applications merge their own entries over it.
var DefaultLocalization = Localization{
	CodeRequestFailed:                "Request failed",
	"INVALID_EMAIL_OR_PASSWORD":      "Invalid email or password",
	"EMAIL_NOT_VERIFIED":             "Email not verified",
	"USER_NOT_FOUND":                 "User not found",
	"SESSION_EXPIRED":                "Your session has expired. Please sign in again",
	"ACCOUNT_NOT_FOUND":              "Account not found",
	"FAILED_TO_UNLINK_LAST_ACCOUNT":  "You can't unlink your last account",
	"ORGANIZATION_NOT_FOUND":         "Organization not found",
	"YOU_ARE_NOT_ALLOWED_TO_DO_THIS": "You are not allowed to do this",
}

// Merge returns a copy of l with overrides applied on top.
func (l Localization) Merge(overrides Localization) Localization {
	out := make(Localization, len(l)+len(overrides))
	for k, v := range l {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// LocalizedError resolves an error into a single displayable message:
// localized text for the error's code, then the error's own message, then the
// code itself, then the generic request-failed string.
func LocalizedError(err error, loc Localization) string {
	if err == nil {
		return ""
	}
	if loc == nil {
		loc = DefaultLocalization
	}

	var ae *Error
	if errors.As(err, &ae) {
		if ae.Code != "" {
			if msg, ok := loc[ae.Code]; ok {
				return msg
			}
		}
		if ae.Message != "" {
			return ae.Message
		}
		if ae.Code != "" {
			return ae.Code
		}
	} else if msg := err.Error(); msg != "" {
		return msg
	}

	if msg, ok := loc[CodeRequestFailed]; ok {
		return msg
	}
	return "Request failed"
}
