// Package backend wraps the external memory-storage REST contract in a
// typed client.
//
// # Contract
//
// The backend exposes five operations the gateway consumes:
//
//   - POST /api/v1/memories/        create a memory (text -> stored record)
//   - POST /api/v1/memories/filter  paginated listing
//   - POST /api/v1/memories/search  ranked vector search
//   - DELETE /api/v1/memories/      delete all memories for a user
//   - POST /api/v1/auth/validate    credential -> identity info (remote auth mode)
//   - GET /api/v1/users/            user listing (admin use only)
//
// Every data call carries the resolved user reference; the client has no
// unscoped data path.
//
// # Fault Model
//
// Failures are explicit values, never panics:
//
//   - ErrUnavailable: the backend could not be reached (connect failure)
//   - ErrTimeout: the bounded per-call deadline elapsed (default 10s)
//   - *Error: the backend answered with a non-2xx status; the upstream
//     body is captured (capped at MaxErrorBodySize) for display
//
// The bridge converts all three to human-readable tool-result text; none
// of them ever terminates a session.
package backend
