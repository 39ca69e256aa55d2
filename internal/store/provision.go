// ABOUTME: Atomic user provisioning: identity + default app + first API key
// ABOUTME: One transaction, per-reference serialization, AlreadyExists on repeat

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Provision creates a new user, its default app, and its first API key as
// one atomic unit, returning the user and the plaintext key. The plaintext
// is shown exactly once; only its hash is stored.
//
// If the reference already names a user with an active key, Provision fails
// with ErrAlreadyExists rather than issuing a second key. A user that exists
// without an active key (e.g. after revocation) gets a fresh key issued
// inside the same transaction.
//
// Concurrent provisions for the same reference are serialized by a per-ref
// mutex; the UNIQUE constraint on users.user_id backstops it, so exactly one
// of two racing calls succeeds.
func (s *SQLiteStore) Provision(ctx context.Context, userRef, displayName string) (*User, string, error) {
	if userRef == "" {
		return nil, "", fmt.Errorf("user reference is required")
	}
	if displayName == "" {
		displayName = userRef
	}

	unlock := s.provisionMu.lock(userRef)
	defer unlock()

	plaintext, err := generateKey()
	if err != nil {
		return nil, "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339)

	// Existing user: refuse if an active key is already out there.
	user, err := s.getUserByRefTx(ctx, tx, userRef)
	switch {
	case err == nil:
		active, err := s.hasActiveKey(ctx, tx, user.ID)
		if err != nil {
			return nil, "", err
		}
		if active {
			return nil, "", ErrAlreadyExists
		}
	case err == ErrNotFound:
		user = &User{
			ID:        uuid.New().String(),
			UserRef:   userRef,
			Name:      displayName,
			CreatedAt: now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO users (id, user_id, name, created_at)
			VALUES (?, ?, ?, ?)
		`, user.ID, user.UserRef, user.Name, nowStr)
		if err != nil {
			if isConstraintViolation(err) {
				// Lost a race with another process writing the same ref.
				return nil, "", ErrAlreadyExists
			}
			return nil, "", fmt.Errorf("inserting user: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO apps (id, owner_id, name, is_active, created_at)
			VALUES (?, ?, ?, 1, ?)
		`, uuid.New().String(), user.ID, DefaultAppName, nowStr)
		if err != nil {
			return nil, "", fmt.Errorf("inserting default app: %w", err)
		}
	default:
		return nil, "", err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, key_hash, created_at, is_active)
		VALUES (?, ?, ?, ?, 1)
	`, uuid.New().String(), user.ID, HashKey(plaintext), nowStr)
	if err != nil {
		return nil, "", fmt.Errorf("inserting api key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("committing provision: %w", err)
	}

	s.logger.Info("provisioned user", "user_ref", userRef, "user_id", user.ID)
	return user, plaintext, nil
}

// getUserByRefTx reads a user by reference inside the provisioning transaction.
func (s *SQLiteStore) getUserByRefTx(ctx context.Context, tx *sql.Tx, userRef string) (*User, error) {
	return s.scanUser(tx.QueryRowContext(ctx, `
		SELECT id, user_id, name, email, created_at, last_active
		FROM users WHERE user_id = ?
	`, userRef))
}
