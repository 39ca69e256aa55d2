// ABOUTME: Credential extraction from HTTP requests
// ABOUTME: Supports Authorization Bearer, X-API-Key header, legacy key query param

package auth

import (
	"net/http"
	"strings"
)

// ExtractCredential pulls an API key out of an HTTP request. Precedence:
// Authorization: Bearer header, then X-API-Key header, then the legacy
// ?key= query parameter. Returns empty string when no credential is present.
func ExtractCredential(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if key, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(key)
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return strings.TrimSpace(r.URL.Query().Get("key"))
}
