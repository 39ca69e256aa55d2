// Package auth authenticates API keys and threads the resolved identity
// through request contexts.
//
// The Gateway is the single entry point for credential checks. It accepts
// a raw key, hashes it, consults a short-lived cache, then falls through
// to a KeyResolver. Two resolvers exist: StoreResolver reads the local
// SQLite credential store, RemoteResolver asks the backend's validate
// endpoint. The gateway never logs or caches key plaintext; cache entries
// are keyed by the SHA-256 digest.
//
// Dashboard sessions use HS256 JWTs (JWTVerifier) carrying the user ref
// in the sub claim. MCP tool traffic never uses JWTs, only API keys.
package auth
