// ABOUTME: AuthGateway resolving presented API keys to exactly one identity
// ABOUTME: Local (SQLite) and remote (backend auth-validate) resolution modes

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/memlab/memgate/internal/backend"
	"github.com/memlab/memgate/internal/store"
)

// ErrUnauthenticated is returned when no identity can be resolved for a
// presented credential. Unknown keys never mint new identities; provisioning
// is an explicit, separate operation.
var ErrUnauthenticated = errors.New("authentication required")

// ErrCredentialInactive is returned when the credential matched a record
// that has been deactivated.
var ErrCredentialInactive = errors.New("credential has been revoked")

// Identity is the resolved user the session is scoped to.
type Identity struct {
	UserID      string // stable external reference all data is scoped to
	DisplayName string
	CreatedAt   time.Time
}

// KeyResolver resolves a plaintext API key to an identity.
type KeyResolver interface {
	Resolve(ctx context.Context, plaintext string) (*Identity, error)
}

// Gateway is the single public entry point for authentication. It combines
// credential resolution with a short-TTL cache so one key can be validated
// many times per second across connections.
type Gateway struct {
	resolver KeyResolver
	cache    *credentialCache
	logger   *slog.Logger
}

// NewGateway creates an authentication gateway over the given resolver.
func NewGateway(resolver KeyResolver, logger *slog.Logger) (*Gateway, error) {
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := newCredentialCache()
	if err != nil {
		return nil, fmt.Errorf("creating credential cache: %w", err)
	}

	return &Gateway{
		resolver: resolver,
		cache:    cache,
		logger:   logger.With("component", "auth"),
	}, nil
}

// Authenticate resolves a presented credential to exactly one identity.
// An absent or malformed credential fails with ErrUnauthenticated. An
// unknown key also fails with ErrUnauthenticated - it is never a trigger
// for provisioning.
func (g *Gateway) Authenticate(ctx context.Context, credential string) (*Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrUnauthenticated
	}

	digest := store.HashKey(credential)
	if identity, ok := g.cache.get(digest); ok {
		return identity, nil
	}

	identity, err := g.resolver.Resolve(ctx, credential)
	if err != nil {
		return nil, err
	}

	g.cache.set(digest, identity)
	return identity, nil
}

// Invalidate drops a credential from the cache, forcing the next
// Authenticate to hit the resolver. Call it whenever a key is deactivated
// in the same process as the serving gateway. Revocations performed out of
// process (the revoke CLI against a running server) are not observed until
// the cache entry's TTL expires.
func (g *Gateway) Invalidate(credential string) {
	g.cache.invalidate(store.HashKey(credential))
}

// StoreResolver resolves keys against the gateway's own credential store.
type StoreResolver struct {
	Store store.CredentialStore
}

// Resolve maps store-level failures onto the auth fault taxonomy:
// an unknown key is ErrUnauthenticated, a revoked key ErrCredentialInactive.
func (r *StoreResolver) Resolve(ctx context.Context, plaintext string) (*Identity, error) {
	user, err := r.Store.ResolveKey(ctx, plaintext)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidCredential):
			return nil, ErrUnauthenticated
		case errors.Is(err, store.ErrCredentialInactive):
			return nil, ErrCredentialInactive
		default:
			return nil, fmt.Errorf("resolving credential: %w", err)
		}
	}

	return &Identity{
		UserID:      user.UserRef,
		DisplayName: user.Name,
		CreatedAt:   user.CreatedAt,
	}, nil
}

// RemoteResolver resolves keys through the backend's auth-validate endpoint.
// Used when identity records live in the backend rather than the gateway.
type RemoteResolver struct {
	Client *backend.Client
}

// Resolve validates the key upstream. Backend faults propagate unchanged so
// callers can render them as upstream failures rather than auth failures.
func (r *RemoteResolver) Resolve(ctx context.Context, plaintext string) (*Identity, error) {
	result, err := r.Client.ValidateKey(ctx, plaintext)
	if err != nil {
		return nil, fmt.Errorf("validating credential upstream: %w", err)
	}
	if !result.Valid {
		return nil, ErrUnauthenticated
	}

	return &Identity{
		UserID:      result.UserID,
		DisplayName: result.Name,
	}, nil
}

var (
	_ KeyResolver = (*StoreResolver)(nil)
	_ KeyResolver = (*RemoteResolver)(nil)
)
