// ABOUTME: Tests for configuration loading, env expansion, and validation
// ABOUTME: Covers defaults, duration parsing, and auth mode checks

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Complete(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8765"
database:
  path: "/tmp/memgate.db"
auth:
  mode: "local"
  jwt_secret: "secret123"
backend:
  base_url: "http://localhost:8000"
  timeout: "5s"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:8765", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/memgate.db", cfg.Database.Path)
	assert.Equal(t, AuthModeLocal, cfg.Auth.Mode)
	assert.Equal(t, "secret123", cfg.Auth.JWTSecret)
	assert.Equal(t, "http://localhost:8000", cfg.Backend.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8765"
database:
  path: "/tmp/memgate.db"
backend:
  base_url: "http://localhost:8000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, AuthModeLocal, cfg.Auth.Mode, "auth mode should default to local")
	assert.Equal(t, DefaultBackendTimeout, cfg.Backend.Timeout)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("MEMGATE_TEST_SECRET", "expanded-secret")
	t.Setenv("MEMGATE_TEST_ADDR", "localhost:9999")

	path := writeConfig(t, `
server:
  http_addr: "${MEMGATE_TEST_ADDR}"
database:
  path: "/tmp/memgate.db"
auth:
  jwt_secret: "${MEMGATE_TEST_SECRET}"
backend:
  base_url: "http://localhost:8000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:9999", cfg.Server.HTTPAddr)
	assert.Equal(t, "expanded-secret", cfg.Auth.JWTSecret)
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8765"
database:
  path: "/tmp/memgate.db"
auth:
  jwt_secret: "${MEMGATE_DEFINITELY_NOT_SET}"
backend:
  base_url: "http://localhost:8000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoad_RemoteModeNeedsNoDatabase(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8765"
auth:
  mode: "remote"
backend:
  base_url: "http://localhost:8000"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, AuthModeRemote, cfg.Auth.Mode)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing http_addr",
			content: `
database:
  path: "/tmp/memgate.db"
backend:
  base_url: "http://localhost:8000"
`,
			wantErr: "server.http_addr is required",
		},
		{
			name: "missing backend base_url",
			content: `
server:
  http_addr: "localhost:8765"
database:
  path: "/tmp/memgate.db"
`,
			wantErr: "backend.base_url is required",
		},
		{
			name: "local mode without database",
			content: `
server:
  http_addr: "localhost:8765"
backend:
  base_url: "http://localhost:8000"
`,
			wantErr: "database.path is required",
		},
		{
			name: "unknown auth mode",
			content: `
server:
  http_addr: "localhost:8765"
database:
  path: "/tmp/memgate.db"
auth:
  mode: "federated"
backend:
  base_url: "http://localhost:8000"
`,
			wantErr: "auth.mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8765"
database:
  path: "/tmp/memgate.db"
backend:
  base_url: "http://localhost:8000"
  timeout: "not-a-duration"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing backend timeout")
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}
