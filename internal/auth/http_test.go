// ABOUTME: Unit tests for HTTP credential extraction
// ABOUTME: Covers Bearer, X-API-Key, legacy query param, and precedence

package auth

import (
	"net/http/httptest"
	"testing"
)

func TestExtractCredential(t *testing.T) {
	tests := []struct {
		name   string
		target string
		setup  func(h map[string]string)
		want   string
	}{
		{
			name:   "bearer header",
			target: "/mcp/messages",
			setup:  func(h map[string]string) { h["Authorization"] = "Bearer om_abc123" },
			want:   "om_abc123",
		},
		{
			name:   "x-api-key header",
			target: "/mcp/messages",
			setup:  func(h map[string]string) { h["X-API-Key"] = "om_def456" },
			want:   "om_def456",
		},
		{
			name:   "legacy query param",
			target: "/mcp/messages?key=om_ghi789",
			setup:  func(h map[string]string) {},
			want:   "om_ghi789",
		},
		{
			name:   "bearer beats x-api-key",
			target: "/mcp/messages",
			setup: func(h map[string]string) {
				h["Authorization"] = "Bearer om_first"
				h["X-API-Key"] = "om_second"
			},
			want: "om_first",
		},
		{
			name:   "header beats query param",
			target: "/mcp/messages?key=om_query",
			setup:  func(h map[string]string) { h["X-API-Key"] = "om_header" },
			want:   "om_header",
		},
		{
			name:   "non-bearer authorization ignored",
			target: "/mcp/messages",
			setup:  func(h map[string]string) { h["Authorization"] = "Basic dXNlcjpwYXNz" },
			want:   "",
		},
		{
			name:   "no credential",
			target: "/mcp/messages",
			setup:  func(h map[string]string) {},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", tt.target, nil)
			headers := map[string]string{}
			tt.setup(headers)
			for k, v := range headers {
				r.Header.Set(k, v)
			}

			if got := ExtractCredential(r); got != tt.want {
				t.Errorf("ExtractCredential() = %q, want %q", got, tt.want)
			}
		})
	}
}
