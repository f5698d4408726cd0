package client

import (
	"context"

	"google.golang.org/grpc/credentials"
)

// PerRPCCredentials adapts an AuthClient into gRPC per-RPC credentials so
// gRPC consumers attach the same bearer token the HTTP client uses.
//
//	conn, err := grpc.NewClient(target,
//	    grpc.WithPerRPCCredentials(client.PerRPCCredentials{Client: ac}))
type PerRPCCredentials struct {
	Client *AuthClient

	// AllowInsecure permits sending the token over non-TLS connections.
	// Only for local development.
	AllowInsecure bool
}

var _ credentials.PerRPCCredentials = PerRPCCredentials{}

// GetRequestMetadata returns the authorization metadata for an outgoing RPC.
// With no token available the RPC proceeds unauthenticated.
func (c PerRPCCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	token, err := c.Client.GetToken()
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}
	return map[string]string{"authorization": "Bearer " + token}, nil
}

// RequireTransportSecurity reports whether TLS is required to send the token.
func (c PerRPCCredentials) RequireTransportSecurity() bool {
	return !c.AllowInsecure
}
