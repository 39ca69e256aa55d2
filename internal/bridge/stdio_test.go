// ABOUTME: Tests for the line-oriented stdio transport
// ABOUTME: Covers ordering, notifications, malformed lines, and EOF handling

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runStdio(t *testing.T, env *testEnv, credential, input string) []string {
	t.Helper()

	var out bytes.Buffer
	transport := NewStdioTransport(env.bridge, credential, strings.NewReader(input), &out, nil)
	require.NoError(t, transport.Run(context.Background()))

	lines := []string{}
	for _, line := range strings.Split(out.String(), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestStdio_Session(t *testing.T) {
	env := setupBridge(t)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"add_memory","arguments":{"text":"the sky is blue"}}}`,
	}, "\n") + "\n"

	lines := runStdio(t, env, env.key, input)
	require.Len(t, lines, 3, "notification must not produce an output line")

	// Responses come back in request order.
	for i, wantID := range []string{"1", "2", "3"} {
		var resp struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      json.RawMessage `json:"id"`
			Error   *Error          `json:"error"`
		}
		require.NoError(t, json.Unmarshal([]byte(lines[i]), &resp))
		assert.Equal(t, "2.0", resp.JSONRPC)
		assert.Equal(t, wantID, string(resp.ID))
		assert.Nil(t, resp.Error)
	}

	var initResp struct {
		Result struct {
			ProtocolVersion string `json:"protocolVersion"`
			Capabilities    struct {
				Tools *struct{} `json:"tools"`
			} `json:"capabilities"`
			ServerInfo struct {
				Name string `json:"name"`
			} `json:"serverInfo"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &initResp))
	assert.Equal(t, protocolVersion, initResp.Result.ProtocolVersion)
	assert.Equal(t, "memgate", initResp.Result.ServerInfo.Name)
	assert.NotNil(t, initResp.Result.Capabilities.Tools)

	assert.Equal(t, StateClosed, env.bridge.State(), "EOF must close the session")
}

func TestStdio_MalformedLineDoesNotEndSession(t *testing.T) {
	env := setupBridge(t)

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		`garbage line`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	}, "\n") + "\n"

	lines := runStdio(t, env, env.key, input)
	require.Len(t, lines, 3)

	var parseErr Response
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &parseErr))
	require.NotNil(t, parseErr.Error)
	assert.Equal(t, CodeParseError, parseErr.Error.Code)

	var listResp Response
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &listResp))
	assert.Nil(t, listResp.Error)
}

func TestStdio_BlankLinesSkipped(t *testing.T) {
	env := setupBridge(t)

	input := "\n\n" + `{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n\n"
	lines := runStdio(t, env, env.key, input)
	assert.Len(t, lines, 1)
}

func TestStdio_EmptyInput(t *testing.T) {
	env := setupBridge(t)

	lines := runStdio(t, env, env.key, "")
	assert.Empty(t, lines)
	assert.Equal(t, StateClosed, env.bridge.State())
}

func TestStdio_CancelledContext(t *testing.T) {
	env := setupBridge(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	input := `{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n"
	transport := NewStdioTransport(env.bridge, env.key, strings.NewReader(input), &out, nil)

	err := transport.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
