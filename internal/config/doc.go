// Package config loads and validates memgate configuration from YAML files.
//
// # File Resolution
//
// The config path is resolved in priority order:
//
//  1. MEMGATE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/memgate/memgate.yaml
//  3. ~/.config/memgate/memgate.yaml
//
// # Format
//
// Configuration is YAML with ${VAR_NAME} environment variable expansion
// applied to the raw file content before parsing:
//
//	server:
//	  http_addr: "localhost:8765"
//
//	database:
//	  path: "/var/lib/memgate/memgate.db"
//
//	auth:
//	  mode: "local"
//	  jwt_secret: "${MEMGATE_JWT_SECRET}"
//
//	backend:
//	  base_url: "http://localhost:8000"
//	  timeout: "10s"
//
//	logging:
//	  level: "info"
//	  format: "text"
//
// # Auth Modes
//
// "local" keeps API-key records in the gateway's own SQLite database and
// is the default. "remote" forwards credentials to the backend's
// auth-validate endpoint; in that mode no local database is opened and
// provisioning commands are unavailable.
//
// Durations are parsed from Go duration strings ("10s", "1m30s"). The
// backend timeout defaults to 10 seconds when omitted.
package config
