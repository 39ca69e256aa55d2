// ABOUTME: Identity propagation through context for request handlers
// ABOUTME: Provides WithIdentity/IdentityFromContext instead of session globals

package auth

import (
	"context"
)

// identityContextKey is the key type for storing an Identity in context.Context.
type identityContextKey struct{}

// WithIdentity returns a new context with the resolved Identity attached.
// Session identity is always context-threaded so multiple independently
// authenticated sessions can coexist in one process.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the Identity from the context, returning
// nil if not present.
func IdentityFromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityContextKey{})
	if val == nil {
		return nil
	}
	identity, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return identity
}
