// ABOUTME: Typed HTTP client for the external memory-storage backend REST API
// ABOUTME: Maps transport failures to upstream fault variants with bounded timeouts

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable is returned when the backend cannot be reached at all.
var ErrUnavailable = errors.New("backend unavailable")

// ErrTimeout is returned when a backend call exceeds its deadline.
var ErrTimeout = errors.New("backend timeout")

// Error is returned when the backend rejects a request with a non-2xx status.
// The upstream response body is captured for rendering to the caller.
type Error struct {
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend rejected request: status %d: %s", e.Status, e.Body)
}

// MaxErrorBodySize caps how much of an upstream error body is captured.
const MaxErrorBodySize = 4 << 10

// Memory is a stored memory record as reported by the backend.
type Memory struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	UserID    string `json:"user_id"`
	AppID     string `json:"app_id,omitempty"`
	CreatedAt string `json:"created_at"`
	State     string `json:"state,omitempty"`
}

// MemoryPage is one page of a filtered memory listing.
type MemoryPage struct {
	Items []Memory `json:"items"`
	Total int      `json:"total"`
	Page  int      `json:"page"`
	Size  int      `json:"size"`
	Pages int      `json:"pages"`
}

// ValidateResult is the backend's answer to an auth-validate call.
type ValidateResult struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// UserInfo describes one user in the backend's user listing.
type UserInfo struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Name        string  `json:"name"`
	Email       *string `json:"email"`
	CreatedAt   string  `json:"created_at"`
	LastActive  *string `json:"last_active"`
	MemoryCount int     `json:"memory_count"`
}

// DeleteResult reports the outcome of a delete-all call.
type DeleteResult struct {
	Success      bool   `json:"success"`
	DeletedCount int    `json:"deleted_count"`
	Message      string `json:"message"`
}

// Config holds configuration for the backend client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger

	// HTTPClient overrides the default client (used in tests).
	HTTPClient *http.Client
}

// Client is a typed wrapper over the memory-storage REST contract.
// Every data call is scoped by the user reference supplied by the caller;
// the client never issues a data call without one.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a backend client for the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		timeout: timeout,
		logger:  logger.With("component", "backend"),
	}, nil
}

// CreateMemory stores a new memory for the user and returns the stored record.
func (c *Client) CreateMemory(ctx context.Context, userRef, text string) (*Memory, error) {
	body := map[string]any{
		"text":    text,
		"user_id": userRef,
	}

	var memory Memory
	if err := c.do(ctx, http.MethodPost, "/api/v1/memories/", nil, body, &memory); err != nil {
		return nil, err
	}
	return &memory, nil
}

// SearchMemories runs a ranked vector search over the user's memories.
// The provider's payload is returned raw so callers can render it verbatim.
func (c *Client) SearchMemories(ctx context.Context, userRef, query string, limit int) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("user_id", userRef)

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/api/v1/memories/search", params, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ListMemories returns one page of the user's memories, newest first.
// Zero page/size fall back to the first page of fifty.
func (c *Client) ListMemories(ctx context.Context, userRef string, page, size int) (*MemoryPage, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	body := map[string]any{
		"page":    page,
		"size":    size,
		"user_id": userRef,
	}

	var result MemoryPage
	if err := c.do(ctx, http.MethodPost, "/api/v1/memories/filter", nil, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteAllMemories soft-deletes every memory owned by the user.
func (c *Client) DeleteAllMemories(ctx context.Context, userRef string) (*DeleteResult, error) {
	body := map[string]any{
		"user_id": userRef,
	}

	var result DeleteResult
	if err := c.do(ctx, http.MethodDelete, "/api/v1/memories/", nil, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ValidateKey asks the backend whether an API key is valid and whose it is.
// Used when the gateway runs in remote auth mode.
func (c *Client) ValidateKey(ctx context.Context, apiKey string) (*ValidateResult, error) {
	body := map[string]any{
		"api_key": apiKey,
	}

	var result ValidateResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/validate", nil, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListUsers returns all users known to the backend with their memory counts.
// Admin/listing use only; never part of tool dispatch.
func (c *Client) ListUsers(ctx context.Context) ([]UserInfo, error) {
	var users []UserInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/users/", nil, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// do performs one HTTP round-trip with the client's timeout applied,
// mapping transport and status failures onto the upstream fault variants.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: %s %s after %s", ErrTimeout, method, path, c.timeout)
		}
		if ctx.Err() == context.Canceled {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
		return &Error{
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(data)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
