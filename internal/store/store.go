// ABOUTME: Store interface and data types for memgate identity persistence
// ABOUTME: Defines User, APIKey, App structs and the credential/provisioning contracts

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidCredential is returned when no active API key matches the presented key
var ErrInvalidCredential = errors.New("invalid credential")

// ErrCredentialInactive is returned when a matching API key exists but has been deactivated
var ErrCredentialInactive = errors.New("credential inactive")

// ErrAlreadyExists is returned when provisioning a user reference that already
// holds an active API key. Callers should authenticate instead of provisioning.
var ErrAlreadyExists = errors.New("user already provisioned")

// DefaultAppName is the workspace created alongside every new user.
const DefaultAppName = "default"

// User is the durable identity all memory data is scoped to.
// UserRef is the stable external reference (e.g. "drew"); ID is the row UUID.
type User struct {
	ID         string
	UserRef    string
	Name       string
	Email      *string
	CreatedAt  time.Time
	LastActive *time.Time
}

// APIKey is a hashed, revocable credential resolving to exactly one user.
// The plaintext key exists only transiently at issuance and verification time.
type APIKey struct {
	ID        string
	UserID    string
	KeyHash   string
	CreatedAt time.Time
	LastUsed  *time.Time
	IsActive  bool
}

// App is a workspace owned by one user, used to namespace stored memories.
type App struct {
	ID        string
	OwnerID   string
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

// CredentialStore resolves presented API keys and issues new ones.
type CredentialStore interface {
	// ResolveKey maps a plaintext API key to its user. Returns
	// ErrInvalidCredential when no key matches, ErrCredentialInactive when
	// the matching key has been deactivated. Bumps last_used/last_active
	// on success.
	ResolveKey(ctx context.Context, plaintext string) (*User, error)

	// IssueKey generates a new high-entropy key for the user, stores only
	// its hash, and returns the plaintext exactly once.
	IssueKey(ctx context.Context, userID string) (string, error)

	// DeactivateKeys marks all active keys for the user inactive without
	// deleting the user. Returns the number of keys deactivated.
	DeactivateKeys(ctx context.Context, userID string) (int, error)
}

// Provisioner atomically creates a user, its default app, and its first API key.
type Provisioner interface {
	// Provision creates the identity triple as one unit. Returns
	// ErrAlreadyExists when the reference already holds an active key.
	// Any failure rolls back all three writes.
	Provision(ctx context.Context, userRef, displayName string) (*User, string, error)
}

// UserStore provides read access to users and their workspaces.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByRef(ctx context.Context, userRef string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	CountUsers(ctx context.Context) (int, error)
	ListApps(ctx context.Context, ownerID string) ([]*App, error)
}
