// ABOUTME: Dashboard REST API: API-key login, token validation, user listing
// ABOUTME: Sessions use short-lived JWTs; MCP traffic never does

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/memlab/memgate/internal/auth"
	"github.com/memlab/memgate/internal/store"
)

type loginRequest struct {
	APIKey string `json:"api_key"`
}

type loginResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	ExpiresIn int64  `json:"expires_in"`
}

// handleLogin exchanges a valid API key for a dashboard session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		s.writeError(w, http.StatusNotImplemented, "session tokens are not configured")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(limitBody(r)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	identity, err := s.auth.Authenticate(r.Context(), req.APIKey)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	token, err := s.verifier.Generate(identity.UserID, auth.DefaultSessionTTL)
	if err != nil {
		s.logger.Error("failed to generate session token", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		UserID:    identity.UserID,
		Name:      identity.DisplayName,
		ExpiresIn: int64(auth.DefaultSessionTTL / time.Second),
	})
}

type validateRequest struct {
	APIKey string `json:"api_key"`
}

// handleValidate checks an API key without issuing a session. This is the
// same contract the gateway consumes from the backend in remote auth mode.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(limitBody(r)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	identity, err := s.auth.Authenticate(r.Context(), req.APIKey)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) || errors.Is(err, auth.ErrCredentialInactive) {
			s.writeJSON(w, http.StatusOK, map[string]any{"valid": false})
			return
		}
		s.logger.Error("credential validation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"valid":   true,
		"user_id": identity.UserID,
		"name":    identity.DisplayName,
	})
}

// handleMe resolves the caller's session token to its identity.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		s.writeError(w, http.StatusNotImplemented, "session tokens are not configured")
		return
	}

	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		s.writeError(w, http.StatusUnauthorized, "missing session token")
		return
	}

	userRef, err := s.verifier.Verify(token)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "invalid or expired session token")
		return
	}

	if s.users == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"user_id": userRef})
		return
	}

	user, err := s.users.GetUserByRef(r.Context(), userRef)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusUnauthorized, "unknown user")
			return
		}
		s.logger.Error("looking up user", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    user.UserRef,
		"name":       user.Name,
		"email":      user.Email,
		"created_at": user.CreatedAt,
	})
}

// authenticateCaller accepts either a dashboard session token or an API
// key. Routes that expose account data require one of the two.
func (s *Server) authenticateCaller(r *http.Request) error {
	if s.verifier != nil {
		header := r.Header.Get("Authorization")
		if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
			if _, err := s.verifier.Verify(token); err == nil {
				return nil
			}
		}
	}

	credential := auth.ExtractCredential(r)
	if credential == "" {
		return auth.ErrUnauthenticated
	}
	_, err := s.auth.Authenticate(r.Context(), credential)
	return err
}

// handleUsers lists known users. Requires an authenticated caller; the
// listing is served from the local store when present, otherwise proxied
// to the backend's user listing.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if err := s.authenticateCaller(r); err != nil {
		s.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if s.users != nil {
		users, err := s.users.ListUsers(r.Context())
		if err != nil {
			s.logger.Error("listing users", "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		out := make([]map[string]any, 0, len(users))
		for _, u := range users {
			out = append(out, map[string]any{
				"user_id":     u.UserRef,
				"name":        u.Name,
				"email":       u.Email,
				"created_at":  u.CreatedAt,
				"last_active": u.LastActive,
			})
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"users": out})
		return
	}

	users, err := s.backend.ListUsers(r.Context())
	if err != nil {
		s.logger.Error("listing users upstream", "error", err)
		s.writeError(w, http.StatusBadGateway, "backend unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrCredentialInactive):
		s.writeError(w, http.StatusUnauthorized, "this API key has been revoked")
	case errors.Is(err, auth.ErrUnauthenticated):
		s.writeError(w, http.StatusUnauthorized, "invalid or missing API key")
	default:
		s.logger.Error("authentication failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
