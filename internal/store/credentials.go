// ABOUTME: API key generation, hashing, resolution, and deactivation
// ABOUTME: Keys are om_-prefixed random tokens; only SHA-256 digests are stored

package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// keyPrefix namespaces issued API keys so they are recognizable in configs.
const keyPrefix = "om_"

// keyRandomLength is the number of random characters following the prefix.
// 32 characters over [a-z0-9] carry about 165 bits of entropy.
const keyRandomLength = 32

const keyAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// generateKey produces a new plaintext API key from a cryptographically
// random source.
func generateKey() (string, error) {
	buf := make([]byte, keyRandomLength)
	max := big.NewInt(int64(len(keyAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("reading random source: %w", err)
		}
		buf[i] = keyAlphabet[n.Int64()]
	}
	return keyPrefix + string(buf), nil
}

// HashKey returns the hex SHA-256 digest used to store and look up a key.
// The digest is deterministic so resolution is a single indexed lookup;
// the underlying keys are high-entropy random tokens, not passwords.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// IssueKey generates a new API key for the user, stores its hash, and
// returns the plaintext. The plaintext cannot be retrieved again.
func (s *SQLiteStore) IssueKey(ctx context.Context, userID string) (string, error) {
	plaintext, err := generateKey()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, key_hash, created_at, is_active)
		VALUES (?, ?, ?, ?, 1)
	`, uuid.New().String(), userID, HashKey(plaintext), now)
	if err != nil {
		if isConstraintViolation(err) {
			return "", fmt.Errorf("key hash collision: %w", err)
		}
		return "", fmt.Errorf("inserting api key: %w", err)
	}

	s.logger.Info("issued API key", "user_id", userID)
	return plaintext, nil
}

// ResolveKey maps a plaintext API key to its user.
// Returns ErrInvalidCredential when no key matches, ErrCredentialInactive
// when a match exists but has been deactivated. Bumps the key's last_used
// and the user's last_active timestamps on success.
func (s *SQLiteStore) ResolveKey(ctx context.Context, plaintext string) (*User, error) {
	keyHash := HashKey(plaintext)

	var keyID, userID string
	var isActive int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, is_active FROM api_keys WHERE key_hash = ?
	`, keyHash).Scan(&keyID, &userID, &isActive)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}

	if isActive == 0 {
		return nil, ErrCredentialInactive
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading key owner: %w", err)
	}

	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used = ? WHERE id = ?
	`, nowStr, keyID); err != nil {
		s.logger.Warn("failed to update key last_used", "key_id", keyID, "error", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_active = ? WHERE id = ?
	`, nowStr, userID); err != nil {
		s.logger.Warn("failed to update user last_active", "user_id", userID, "error", err)
	}
	user.LastActive = &now

	return user, nil
}

// DeactivateKeys marks all active keys for the user inactive.
// The user record is untouched; deletion is an administrative concern.
func (s *SQLiteStore) DeactivateKeys(ctx context.Context, userID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET is_active = 0 WHERE user_id = ? AND is_active = 1
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("deactivating api keys: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected > 0 {
		s.logger.Info("deactivated API keys", "user_id", userID, "count", rowsAffected)
	}
	return int(rowsAffected), nil
}

// hasActiveKey reports whether the user holds at least one active key.
// Runs inside the provisioning transaction when tx is non-nil.
func (s *SQLiteStore) hasActiveKey(ctx context.Context, tx *sql.Tx, userID string) (bool, error) {
	query := `SELECT COUNT(*) FROM api_keys WHERE user_id = ? AND is_active = 1`

	var count int
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, userID).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, query, userID).Scan(&count)
	}
	if err != nil {
		return false, fmt.Errorf("counting active keys: %w", err)
	}
	return count > 0, nil
}
