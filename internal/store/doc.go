// Package store provides persistent identity storage for the gateway using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with three
// specialized interfaces:
//
//   - CredentialStore: API key resolution, issuance, and deactivation
//   - Provisioner: atomic user + default app + first key creation
//   - UserStore: read access to users and their workspaces
//
// SQLiteStore implements all interfaces in a single struct, allowing easy
// composition while maintaining clear interface boundaries.
//
// # Data Models
//
//   - User: durable identity all memory data is scoped to; user_id is the
//     stable external reference, id the row UUID
//   - APIKey: hashed credential bound to exactly one user; the plaintext
//     key is never persisted
//   - App: workspace owned by one user, used to namespace memories; a
//     "default" app is created with every user
//
// # Credential Handling
//
// Keys are "om_"-prefixed random tokens. Only the hex SHA-256 digest of a
// key is stored; ResolveKey hashes the presented plaintext and performs an
// indexed lookup. Collisions are ruled out by the UNIQUE constraint on
// key_hash at insert time.
//
// # Provisioning Atomicity
//
// Provision runs in a single transaction and is additionally serialized
// per user reference, so two concurrent first uses of the same reference
// produce exactly one identity and one key. A repeat provision for a
// reference with an active key fails with ErrAlreadyExists.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use NewSQLiteStore(":memory:") for tests.
package store
