// Package bridge implements the JSON-RPC state machine between MCP clients
// and the memory backend.
//
// A Bridge is one protocol session: Uninitialized until a well-formed
// initialize request, then Ready, then Closed on end-of-input. Methods are
// dispatched through a fixed table (initialize, tools/list, tools/call);
// anything else is answered with -32601. tools/list is served even before
// the handshake because several clients probe the catalog speculatively.
//
// Error channels are deliberately split. Protocol faults (bad JSON, unknown
// method, malformed params) use the JSON-RPC error object. Everything that
// goes wrong while executing a tool - authentication, argument validation,
// backend faults - is rendered as readable text in result.content with
// isError set, because the calling agent shows that text to a human and has
// no other channel for it. A failed call never ends the session.
//
// Two transports drive the bridge: StdioTransport (one line per JSON value,
// strictly sequential, one credential for the whole process) and the HTTP
// surface in internal/server (per-call credentials, concurrent sessions).
package bridge
