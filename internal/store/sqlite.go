// ABOUTME: SQLite implementation of the store interfaces using modernc.org/sqlite
// ABOUTME: Provides user/key/app persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements CredentialStore, Provisioner, and UserStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// Serializes provisioning per user reference so two near-simultaneous
	// first uses of the same reference cannot both issue keys.
	provisionMu keyedMutex
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL UNIQUE,
			name        TEXT NOT NULL,
			email       TEXT,
			created_at  TEXT NOT NULL,
			last_active TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_users_user_id ON users(user_id);

		CREATE TABLE IF NOT EXISTS api_keys (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id),
			key_hash   TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL,
			last_used  TEXT,
			is_active  INTEGER NOT NULL DEFAULT 1
		);

		CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(key_hash);
		CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id);

		CREATE TABLE IF NOT EXISTS apps (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL REFERENCES users(id),
			name       TEXT NOT NULL,
			is_active  INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,

			UNIQUE(owner_id, name)
		);

		CREATE INDEX IF NOT EXISTS idx_apps_owner ON apps(owner_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// GetUser retrieves a user by row ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, email, created_at, last_active
		FROM users WHERE id = ?
	`, id))
}

// GetUserByRef retrieves a user by its stable external reference.
// Returns ErrNotFound if no user exists for the reference.
func (s *SQLiteStore) GetUserByRef(ctx context.Context, userRef string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, email, created_at, last_active
		FROM users WHERE user_id = ?
	`, userRef))
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanUser(row rowScanner) (*User, error) {
	var user User
	var email, lastActive sql.NullString
	var createdAt string

	err := row.Scan(&user.ID, &user.UserRef, &user.Name, &email, &createdAt, &lastActive)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	user.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if email.Valid {
		user.Email = &email.String
	}
	if lastActive.Valid {
		t, err := time.Parse(time.RFC3339, lastActive.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_active: %w", err)
		}
		user.LastActive = &t
	}

	return &user, nil
}

// ListUsers returns all users ordered by creation time.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, email, created_at, last_active
		FROM users
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return users, nil
}

// CountUsers returns the total number of users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// ListApps returns all apps owned by the given user.
func (s *SQLiteStore) ListApps(ctx context.Context, ownerID string) ([]*App, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, is_active, created_at
		FROM apps
		WHERE owner_id = ?
		ORDER BY created_at ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying apps: %w", err)
	}
	defer rows.Close()

	var apps []*App
	for rows.Next() {
		var app App
		var createdAt string
		var isActive int

		if err := rows.Scan(&app.ID, &app.OwnerID, &app.Name, &isActive, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning app row: %w", err)
		}

		app.IsActive = isActive != 0
		app.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		apps = append(apps, &app)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating app rows: %w", err)
	}
	return apps, nil
}

// keyedMutex provides per-key mutual exclusion. Entries are reference
// counted and removed once the last holder releases the key, so the map
// stays bounded by the number of in-flight operations.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the mutex for key and returns the release func.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Ensure SQLiteStore implements the store interfaces
var (
	_ CredentialStore = (*SQLiteStore)(nil)
	_ Provisioner     = (*SQLiteStore)(nil)
	_ UserStore       = (*SQLiteStore)(nil)
)
