package client

import (
	"net/http"
)

// AuthTransport wraps an http.RoundTripper to add a static Authorization
// header. For transports that should refresh automatically, use the client's
// own HTTPClient instead.
type AuthTransport struct {
	Base  http.RoundTripper
	Token string
}

// RoundTrip implements http.RoundTripper.
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Token != "" {
		// Clone the request to avoid mutating the original
		req2 := req.Clone(req.Context())
		req2.Header.Set("Authorization", "Bearer "+t.Token)
		req = req2
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// NewAuthTransport creates an AuthTransport with the given token.
func NewAuthTransport(token string) *AuthTransport {
	return &AuthTransport{Base: http.DefaultTransport, Token: token}
}

// NewAuthTransportWithBase creates an AuthTransport with a custom base transport.
func NewAuthTransportWithBase(base http.RoundTripper, token string) *AuthTransport {
	return &AuthTransport{Base: base, Token: token}
}

// refreshTransport is an http.RoundTripper that adds auth and handles refresh.
type refreshTransport struct {
	client *AuthClient
	base   http.RoundTripper
}

func (t *refreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Get current token (may trigger refresh)
	token, err := t.client.GetToken()
	if err != nil {
		return nil, err
	}

	if token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// On 401, try to refresh once and retry. Token-source-backed clients
	// refresh through the source itself, so only the credential store path
	// applies here.
	if resp.StatusCode == http.StatusUnauthorized && token != "" && t.client.tokenSource == nil {
		t.client.mu.Lock()
		cred, _ := t.client.store.GetCredential(t.client.serverURL)
		if cred != nil && cred.HasRefreshToken() {
			refreshErr := t.client.refreshTokenLocked(cred)
			t.client.mu.Unlock()
			if refreshErr == nil {
				newToken, _ := t.client.GetToken()
				if newToken != "" {
					resp.Body.Close()
					req = req.Clone(req.Context())
					req.Header.Set("Authorization", "Bearer "+newToken)
					return t.base.RoundTrip(req)
				}
			}
		} else {
			t.client.mu.Unlock()
		}
	}

	return resp, nil
}
