// ABOUTME: MCP SSE transport: long-lived event streams plus a message endpoint
// ABOUTME: Responses are delivered over the stream as data frames

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memlab/memgate/internal/auth"
	"github.com/memlab/memgate/internal/bridge"
)

// pingInterval is how often an idle SSE stream receives a keepalive.
const pingInterval = 30 * time.Second

// sseSession is one connected MCP client: its bridge state machine, the
// credential bound at connect time, and the channel feeding its stream.
type sseSession struct {
	id         string
	client     string
	credential string
	bridge     *bridge.Bridge
	events     chan *bridge.Response

	// ctx covers the life of the stream; closing the stream aborts
	// in-flight dispatch for this session only.
	ctx context.Context
}

// deliver queues a response for the session's stream, blocking until the
// stream accepts it or the session ends. Every request with an id gets
// exactly one response out, however slow the stream writer is. Reports
// whether the response was accepted.
func (sess *sseSession) deliver(resp *bridge.Response) bool {
	select {
	case sess.events <- resp:
		return true
	case <-sess.ctx.Done():
		return false
	}
}

// sessionRegistry tracks live SSE sessions by id.
type sessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*sseSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*sseSession)}
}

func (r *sessionRegistry) add(sess *sseSession) {
	r.mu.Lock()
	r.sessions[sess.id] = sess
	r.mu.Unlock()
}

func (r *sessionRegistry) get(id string) (*sseSession, bool) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	return sess, ok
}

func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// handleSSE opens the long-lived event stream for one MCP client. The
// credential presented here is bound to the whole session; tool calls
// posted to the message endpoint run under it.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	credential := auth.ExtractCredential(r)
	identity, err := s.auth.Authenticate(r.Context(), credential)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "invalid or missing API key")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	b, err := bridge.New(bridge.Config{
		Registry:      s.registry,
		Auth:          s.auth,
		Backend:       s.backend,
		Logger:        s.logger,
		ServerName:    s.serverName,
		ServerVersion: s.serverVersion,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := &sseSession{
		id:         uuid.New().String(),
		client:     r.PathValue("client"),
		credential: credential,
		bridge:     b,
		events:     make(chan *bridge.Response, 16),
		ctx:        ctx,
	}
	s.sessions.add(sess)
	defer func() {
		s.sessions.remove(sess.id)
		sess.bridge.Close()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Tell the client where to post messages for this session.
	endpoint := fmt.Sprintf("/mcp/%s/messages?session_id=%s", sess.client, sess.id)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpoint)
	flusher.Flush()

	s.logger.Info("sse session opened",
		"session_id", sess.id,
		"client", sess.client,
		"user", identity.UserID,
	)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sse session closed", "session_id", sess.id)
			return

		case resp := <-sess.events:
			data, err := json.Marshal(resp)
			if err != nil {
				s.logger.Warn("failed to encode response", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// handleMessages accepts one JSON-RPC message for an open session and
// dispatches it concurrently; the response goes out over the session's
// event stream. The HTTP reply is 202 Accepted.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	sess, ok := s.sessions.get(sessionID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown or expired session")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	// A credential on the POST overrides the session-bound one.
	credential := auth.ExtractCredential(r)
	if credential == "" {
		credential = sess.credential
	}

	// Each call runs independently; a slow backend call must not block the
	// next message. Closing the stream cancels in-flight dispatch.
	go func() {
		resp := sess.bridge.HandleMessage(sess.ctx, credential, body)
		if resp == nil {
			return
		}
		if !sess.deliver(resp) {
			s.logger.Warn("session closed before response delivery", "session_id", sess.id)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}
