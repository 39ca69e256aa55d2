// ABOUTME: Entry point for the memgate memory gateway
// ABOUTME: Bridges MCP clients to the memory backend over stdio or HTTP/SSE

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/memlab/memgate/internal/auth"
	"github.com/memlab/memgate/internal/backend"
	"github.com/memlab/memgate/internal/bridge"
	"github.com/memlab/memgate/internal/config"
	"github.com/memlab/memgate/internal/server"
	"github.com/memlab/memgate/internal/store"
	"github.com/memlab/memgate/internal/tools"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _ __ ___   ___ _ __ ___   __ _  __ _| |_ ___
| '_ ' _ \ / _ \ '_ ' _ \ / _' |/ _' | __/ _ \
| | | | | |  __/ | | | | | (_| | (_| | ||  __/
|_| |_| |_|\___|_| |_| |_|\__, |\__,_|\__\___|
                          |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: MEMGATE_CONFIG env var > XDG_CONFIG_HOME/memgate/memgate.yaml > ~/.config/memgate/memgate.yaml
func getConfigPath() string {
	if envPath := os.Getenv("MEMGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "memgate.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "memgate", "memgate.yaml")
}

// getDataPath returns the path to the memgate data directory.
// Priority: XDG_DATA_HOME/memgate > ~/.local/share/memgate
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "memgate")
}

func main() {
	// Local development convenience; missing .env is not an error.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: memgate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the HTTP/SSE gateway server")
		fmt.Println("  stdio                  Run a stdio bridge session (MCP over stdin/stdout)")
		fmt.Println("  init                   Create a new config file interactively")
		fmt.Println("  bootstrap --user REF   Provision a user and print their API key")
		fmt.Println("  users                  List provisioned users")
		fmt.Println("  revoke --user REF      Deactivate a user's API keys")
		fmt.Println("  health                 Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "stdio":
		err = runStdio(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx)
	case "users":
		err = runUsers(ctx)
	case "revoke":
		err = runRevoke(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// deps are the shared collaborators the serve and stdio commands wire up.
type deps struct {
	cfg      *config.Config
	store    *store.SQLiteStore // nil in remote auth mode
	gateway  *auth.Gateway
	backend  *backend.Client
	registry *tools.Registry
}

func buildDeps(cfg *config.Config, logger *slog.Logger) (*deps, error) {
	client, err := backend.New(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.Timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating backend client: %w", err)
	}

	d := &deps{
		cfg:      cfg,
		backend:  client,
		registry: tools.NewRegistry(),
	}

	var resolver auth.KeyResolver
	if cfg.Auth.Mode == config.AuthModeRemote {
		resolver = &auth.RemoteResolver{Client: client}
	} else {
		s, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		d.store = s
		resolver = &auth.StoreResolver{Store: s}
	}

	gateway, err := auth.NewGateway(resolver, logger)
	if err != nil {
		return nil, fmt.Errorf("creating auth gateway: %w", err)
	}
	d.gateway = gateway

	return d, nil
}

func (d *deps) close() {
	if d.store != nil {
		d.store.Close()
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging, os.Stdout)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Backend:   %s\n", cfg.Backend.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Auth:      %s\n", cfg.Auth.Mode)
	fmt.Println()

	logger.Info("starting memgate",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"backend", cfg.Backend.BaseURL,
		"auth_mode", cfg.Auth.Mode,
	)

	d, err := buildDeps(cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	var verifier *auth.JWTVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier, err = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return fmt.Errorf("creating JWT verifier: %w", err)
		}
	}

	var users store.UserStore
	if d.store != nil {
		users = d.store
	}

	srv, err := server.New(server.Config{
		Addr:          cfg.Server.HTTPAddr,
		Registry:      d.registry,
		Auth:          d.gateway,
		Backend:       d.backend,
		Users:         users,
		Verifier:      verifier,
		Logger:        logger,
		ServerName:    "memgate",
		ServerVersion: version,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

// runStdio runs one MCP session over stdin/stdout. The credential is bound
// for the whole process from MEMGATE_API_KEY or --key. All logging goes to
// stderr: stdout carries only JSON-RPC lines.
func runStdio(ctx context.Context) error {
	var key string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--key" || arg == "-k":
			if i+1 >= len(args) {
				return fmt.Errorf("--key requires a value")
			}
			key = args[i+1]
			i++
		case strings.HasPrefix(arg, "--key="):
			key = strings.TrimPrefix(arg, "--key=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	if key == "" {
		key = os.Getenv("MEMGATE_API_KEY")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stderr)

	d, err := buildDeps(cfg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	b, err := bridge.New(bridge.Config{
		Registry:      d.registry,
		Auth:          d.gateway,
		Backend:       d.backend,
		Logger:        logger,
		ServerName:    "memgate",
		ServerVersion: version,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	transport := bridge.NewStdioTransport(b, key, os.Stdin, os.Stdout, logger)
	return transport.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig, out *os.File) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = &colorHandler{
			level: level,
			out:   out,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	out    *os.File
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Fprint(h.out, buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		out:    h.out,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		out:    h.out,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// parseUserFlags handles "--user value", "--user=value", and the optional
// --name display-name flag shared by bootstrap and revoke.
func parseUserFlags(args []string) (userRef, displayName string, err error) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--user" || arg == "-u":
			if i+1 >= len(args) {
				return "", "", fmt.Errorf("--user requires a value")
			}
			userRef = args[i+1]
			i++
		case strings.HasPrefix(arg, "--user="):
			userRef = strings.TrimPrefix(arg, "--user=")
		case arg == "--name" || arg == "-n":
			if i+1 >= len(args) {
				return "", "", fmt.Errorf("--name requires a value")
			}
			displayName = args[i+1]
			i++
		case strings.HasPrefix(arg, "--name="):
			displayName = strings.TrimPrefix(arg, "--name=")
		case strings.HasPrefix(arg, "-"):
			return "", "", fmt.Errorf("unknown flag: %s", arg)
		default:
			return "", "", fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	userRef = strings.TrimSpace(userRef)
	if userRef == "" {
		return "", "", fmt.Errorf("--user flag is required")
	}
	if len(userRef) > 100 {
		return "", "", fmt.Errorf("user reference exceeds maximum length of 100 characters")
	}
	return userRef, strings.TrimSpace(displayName), nil
}

// runBootstrap provisions a user and prints the one-time plaintext key.
// If no config exists yet, one is written with a random JWT secret first.
func runBootstrap(ctx context.Context) error {
	userRef, displayName, err := parseUserFlags(os.Args[2:])
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "memgate.db")

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	var cfg *config.Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Generate random JWT secret
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		configContent := fmt.Sprintf(`# memgate configuration
# Generated by memgate bootstrap

server:
  http_addr: "localhost:8765"

database:
  path: "%s"

auth:
  mode: "local"
  jwt_secret: "%s"

backend:
  base_url: "http://localhost:8000"
  timeout: "10s"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)

		if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}

		green.Printf("  ✓ Created config: %s\n", configPath)

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	if cfg.Auth.Mode == config.AuthModeRemote {
		return fmt.Errorf("bootstrap requires local auth mode; keys are issued by the backend in remote mode")
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	user, plaintextKey, err := s.Provision(ctx, userRef, displayName)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return fmt.Errorf("user %q already has an active key; use 'memgate revoke --user %s' first to issue a new one", userRef, userRef)
		}
		return fmt.Errorf("provisioning user: %w", err)
	}

	green.Printf("  ✓ Provisioned user: %s\n", user.Name)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  User")
	cyan.Println("  ----")
	fmt.Printf("  Reference:    %s\n", user.UserRef)
	fmt.Printf("  Display Name: %s\n", user.Name)
	fmt.Println()
	yellow.Println("  API key (shown once, store it now):")
	fmt.Printf("    %s\n", plaintextKey)
	fmt.Println()
	yellow.Println("  Ready to go:")
	fmt.Println("    memgate serve                          # start the gateway")
	fmt.Printf("    MEMGATE_API_KEY=%s memgate stdio   # stdio session\n", plaintextKey[:6]+"...")
	fmt.Println()

	return nil
}

func runUsers(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.Mode == config.AuthModeRemote {
		return fmt.Errorf("user listing requires local auth mode")
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	users, err := s.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users provisioned. Run 'memgate bootstrap --user REF' to create one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REFERENCE\tNAME\tCREATED\tLAST ACTIVE")
	for _, u := range users {
		lastActive := "-"
		if u.LastActive != nil {
			lastActive = u.LastActive.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			u.UserRef, u.Name, u.CreatedAt.Format("2006-01-02"), lastActive)
	}
	return w.Flush()
}

func runRevoke(ctx context.Context) error {
	userRef, _, err := parseUserFlags(os.Args[2:])
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.Mode == config.AuthModeRemote {
		return fmt.Errorf("revocation requires local auth mode")
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	user, err := s.GetUserByRef(ctx, userRef)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no such user: %s", userRef)
		}
		return fmt.Errorf("looking up user: %w", err)
	}

	count, err := s.DeactivateKeys(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("revoking keys: %w", err)
	}

	fmt.Printf("Deactivated %d key(s) for %s\n", count, userRef)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("memgate configuration setup")
	fmt.Println("===========================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "memgate.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8765")

	// Backend
	fmt.Println("\n--- Backend Configuration ---")
	backendURL := prompt(reader, "Memory backend base URL", "http://localhost:8000")
	backendTimeout := prompt(reader, "Backend call timeout", "10s")

	// Auth
	fmt.Println("\n--- Auth Configuration ---")
	authMode := prompt(reader, "Auth mode (local/remote)", "local")

	var dbPath string
	if authMode == "local" {
		fmt.Println("\n--- Database Configuration ---")
		dbPath = prompt(reader, "SQLite database path", defaultDbPath)
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# memgate configuration\n")
	cfg.WriteString("# Generated by memgate init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	if dbPath != "" {
		cfg.WriteString("database:\n")
		cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
		cfg.WriteString("\n")
	}

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  mode: \"%s\"\n", authMode))
	cfg.WriteString("  jwt_secret: \"${MEMGATE_JWT_SECRET}\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("backend:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", backendURL))
	cfg.WriteString(fmt.Sprintf("  timeout: \"%s\"\n", backendTimeout))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  memgate serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
