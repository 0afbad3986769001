// ABOUTME: Authenticated identity propagation via request context.

package auth

import "context"

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	Name   string // client name from the token subject or key name
	Method string // "jwt" | "api_key"
}

type identityKey struct{}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity on the context, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
