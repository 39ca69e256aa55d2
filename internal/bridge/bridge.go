// ABOUTME: JSON-RPC state machine dispatching MCP methods to the memory tools
// ABOUTME: Tool failures become result text; only protocol faults use error objects

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/memlab/memgate/internal/auth"
	"github.com/memlab/memgate/internal/backend"
	"github.com/memlab/memgate/internal/tools"
)

// State of the bridge's protocol state machine.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds the collaborators a bridge dispatches to.
type Config struct {
	Registry *tools.Registry
	Auth     *auth.Gateway
	Backend  *backend.Client
	Logger   *slog.Logger

	ServerName    string
	ServerVersion string
}

// Bridge is one protocol session: a JSON-RPC state machine over a fixed
// method dispatch table. Each transport connection owns its own Bridge;
// the collaborators behind it are shared and concurrency-safe.
type Bridge struct {
	registry *tools.Registry
	auth     *auth.Gateway
	backend  *backend.Client
	logger   *slog.Logger

	serverName    string
	serverVersion string

	mu    sync.Mutex
	state State

	handlers map[string]handlerFunc
}

// handlerFunc is the fixed signature every method handler implements.
// credential is the raw API key the transport extracted for this call.
type handlerFunc func(ctx context.Context, credential string, req *Request) *Response

// New creates a bridge session over the given collaborators.
func New(cfg Config) (*Bridge, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("auth gateway is required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("backend client is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := cfg.ServerName
	if name == "" {
		name = "memgate"
	}
	version := cfg.ServerVersion
	if version == "" {
		version = "dev"
	}

	b := &Bridge{
		registry:      cfg.Registry,
		auth:          cfg.Auth,
		backend:       cfg.Backend,
		logger:        logger.With("component", "bridge"),
		serverName:    name,
		serverVersion: version,
		state:         StateUninitialized,
	}

	// Unknown methods are rejected at lookup time, not via conditional chains.
	b.handlers = map[string]handlerFunc{
		"initialize": b.handleInitialize,
		"tools/list": b.handleToolsList,
		"tools/call": b.handleToolsCall,
	}

	return b, nil
}

// State returns the current protocol state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Close marks the session closed. Called by the transport on end-of-input;
// subsequent messages are dropped.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.state = StateClosed
	b.mu.Unlock()
}

// HandleMessage processes one raw JSON-RPC message and returns the response
// to write, or nil when no response is due (notifications, closed session).
// Malformed input yields a parse error response and leaves the session
// usable for the next message.
func (b *Bridge) HandleMessage(ctx context.Context, credential string, raw []byte) *Response {
	if b.State() == StateClosed {
		return nil
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		b.logger.Warn("malformed message", "error", err)
		return errorResponse(nil, CodeParseError, "invalid JSON")
	}

	if req.JSONRPC != "2.0" {
		if req.IsNotification() {
			return nil
		}
		return errorResponse(req.ID, CodeInvalidRequest, "invalid JSON-RPC version")
	}

	// Notifications never receive a response, whatever the method.
	if req.IsNotification() {
		b.logger.Debug("notification", "method", req.Method)
		return nil
	}

	handler, ok := b.handlers[req.Method]
	if !ok {
		return errorResponse(req.ID, CodeMethodNotFound, "method not found")
	}

	// tools/list is tolerated before the handshake: many clients probe the
	// catalog speculatively, and it is metadata rather than data access.
	if b.State() == StateUninitialized && req.Method != "initialize" && req.Method != "tools/list" {
		return errorResponse(req.ID, CodeInvalidRequest, "server not initialized")
	}

	return handler(ctx, credential, &req)
}

// handleInitialize performs the handshake and moves the session to Ready.
// Repeat handshakes return the identical shape.
func (b *Bridge) handleInitialize(_ context.Context, _ string, req *Request) *Response {
	b.mu.Lock()
	if b.state == StateUninitialized {
		b.state = StateReady
	}
	b.mu.Unlock()

	b.logger.Debug("session initialized", "protocol_version", protocolVersion)

	return resultResponse(req.ID, InitializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo: ServerInfo{
			Name:    b.serverName,
			Version: b.serverVersion,
		},
	})
}

// handleToolsList returns the static catalog. No auth: it is metadata.
func (b *Bridge) handleToolsList(_ context.Context, _ string, req *Request) *Response {
	catalog := b.registry.List()
	result := ListToolsResult{Tools: make([]ToolInfo, len(catalog))}
	for i, d := range catalog {
		result.Tools[i] = ToolInfo{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		}
	}
	return resultResponse(req.ID, result)
}

// handleToolsCall authenticates the caller, validates arguments, and invokes
// the backend. Every failure past param parsing is rendered as tool-level
// error text: the calling agent has no other channel to show its user what
// went wrong.
func (b *Bridge) handleToolsCall(ctx context.Context, credential string, req *Request) *Response {
	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "invalid params")
		}
	}
	if params.Name == "" {
		return errorResponse(req.ID, CodeInvalidParams, "tool name is required")
	}

	if b.registry.Get(params.Name) == nil {
		return resultResponse(req.ID, errorResult(fmt.Sprintf("Error: unknown tool %q.", params.Name)))
	}

	identity, err := b.auth.Authenticate(ctx, credential)
	if err != nil {
		b.logger.Warn("tool call rejected", "tool", params.Name, "error", err)
		return resultResponse(req.ID, b.renderAuthFault(err))
	}
	ctx = auth.WithIdentity(ctx, identity)

	result := b.dispatchTool(ctx, identity, params.Name, params.Arguments)

	b.logger.Debug("tools/call complete",
		"tool", params.Name,
		"user", identity.UserID,
		"is_error", result.IsError,
	)

	return resultResponse(req.ID, result)
}

// dispatchTool runs one validated tool call against the backend.
func (b *Bridge) dispatchTool(ctx context.Context, identity *auth.Identity, name string, rawArgs json.RawMessage) *CallToolResult {
	switch name {
	case tools.ToolAddMemory:
		args, err := tools.ParseAddMemory(rawArgs)
		if err != nil {
			return errorResult("Error: " + err.Error() + ".")
		}
		memory, err := b.backend.CreateMemory(ctx, identity.UserID, args.Text)
		if err != nil {
			return b.renderUpstreamFault("storing memory", err)
		}
		return textResult(fmt.Sprintf("Memory stored with id %s.", memory.ID))

	case tools.ToolSearchMemory:
		args, err := tools.ParseSearchMemory(rawArgs)
		if err != nil {
			return errorResult("Error: " + err.Error() + ".")
		}
		payload, err := b.backend.SearchMemories(ctx, identity.UserID, args.Query, args.Limit)
		if err != nil {
			return b.renderUpstreamFault("searching memories", err)
		}
		return textResult(string(payload))

	case tools.ToolListMemories:
		args, err := tools.ParseListMemories(rawArgs)
		if err != nil {
			return errorResult("Error: " + err.Error() + ".")
		}
		page, err := b.backend.ListMemories(ctx, identity.UserID, args.Page, args.Size)
		if err != nil {
			return b.renderUpstreamFault("listing memories", err)
		}
		encoded, err := json.Marshal(page)
		if err != nil {
			return errorResult("Error: could not encode listing.")
		}
		return textResult(string(encoded))

	case tools.ToolDeleteAll:
		result, err := b.backend.DeleteAllMemories(ctx, identity.UserID)
		if err != nil {
			return b.renderUpstreamFault("deleting memories", err)
		}
		return textResult(fmt.Sprintf("Deleted %d memories.", result.DeletedCount))

	default:
		return errorResult(fmt.Sprintf("Error: unknown tool %q.", name))
	}
}

// renderAuthFault maps auth failures onto readable tool-result text.
func (b *Bridge) renderAuthFault(err error) *CallToolResult {
	switch {
	case errors.Is(err, auth.ErrCredentialInactive):
		return errorResult("Error: this API key has been revoked. Ask your administrator for a new key.")
	case errors.Is(err, auth.ErrUnauthenticated):
		return errorResult("Error: authentication failed. Provide a valid API key.")
	default:
		return errorResult("Error: could not verify credentials. Try again shortly.")
	}
}

// renderUpstreamFault maps backend failures onto readable tool-result text,
// including the upstream status and body when the call was rejected.
func (b *Bridge) renderUpstreamFault(action string, err error) *CallToolResult {
	var upstreamErr *backend.Error
	switch {
	case errors.As(err, &upstreamErr):
		return errorResult(fmt.Sprintf("Error %s: backend rejected the request (status %d): %s", action, upstreamErr.Status, upstreamErr.Body))
	case errors.Is(err, backend.ErrTimeout):
		return errorResult(fmt.Sprintf("Error %s: the backend timed out.", action))
	case errors.Is(err, backend.ErrUnavailable):
		return errorResult(fmt.Sprintf("Error %s: the backend is unreachable.", action))
	case errors.Is(err, context.Canceled):
		return errorResult(fmt.Sprintf("Error %s: the request was cancelled.", action))
	default:
		return errorResult(fmt.Sprintf("Error %s: %v.", action, err))
	}
}
