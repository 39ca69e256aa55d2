// Package server is the networked surface of the gateway.
//
// Two route groups share one http.Server:
//
//   - /mcp/{client}/sse and /mcp/{client}/messages implement the MCP SSE
//     transport. A GET on the sse endpoint authenticates once, opens a
//     long-lived event stream, and announces a per-session message
//     endpoint. Messages posted there are dispatched concurrently through
//     a per-session bridge; responses come back over the stream as
//     "data: <json>" frames, with a comment ping every 30 seconds to keep
//     intermediaries from closing idle connections.
//
//   - /api/v1/auth/* and /api/v1/users serve the dashboard: API-key login
//     issuing an HS256 session token, token introspection, and a user
//     listing backed by the local store or the upstream backend.
//
// Sessions are independent: each carries its own credential and bridge
// state, and a dropped stream cancels only that session's in-flight calls.
package server
