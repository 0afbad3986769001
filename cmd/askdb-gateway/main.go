// ABOUTME: Entry point for the askdb-gateway query server
// ABOUTME: Serves NL question sessions over SSE backed by Doris and an LLM

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/askdb-gateway/internal/auth"
	"github.com/2389/askdb-gateway/internal/config"
	"github.com/2389/askdb-gateway/internal/gateway"
	"github.com/2389/askdb-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
            _       _ _
   __ _ ___| | ____| | |__
  / _' / __| |/ / _' | '_ \
 | (_| \__ \   < (_| | |_) |
  \__,_|___/_|\_\__,_|_.__/
`

// getConfigPath returns the path to the gateway config file.
// Priority: ASKDB_CONFIG env var > XDG_CONFIG_HOME/askdb/gateway.yaml > ~/.config/askdb/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ASKDB_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "askdb", "gateway.yaml")
}

// getDataPath returns the path to the askdb data directory.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "askdb")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: askdb-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                Start the gateway server")
		fmt.Println("  init                 Create a starter config file")
		fmt.Println("  token --name NAME    Issue a JWT for a client")
		fmt.Println("  apikey --name NAME   Mint an API key for a client")
		fmt.Println("  health               Check gateway health")
		fmt.Println("  ready                Check gateway readiness")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken()
	case "apikey":
		err = runAPIKey(ctx)
	case "health":
		err = runProbe(ctx, "/health")
	case "ready":
		err = runProbe(ctx, "/health/ready")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Doris:    %s\n", cfg.Doris.Database)
	green.Print("    ▶ ")
	fmt.Printf("Model:    %s\n", cfg.LLM.Model)
	if cfg.Auth.JWTSecret == "" {
		color.New(color.FgYellow).Print("    ▶ ")
		fmt.Println("Auth:     disabled")
	}
	fmt.Println()

	logger.Info("starting askdb-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Doris.Database,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runInit writes a starter config with a fresh JWT secret. Refuses to
// overwrite an existing file.
func runInit() error {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "askdb.db")

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# askdb-gateway configuration
# Generated by askdb-gateway init

server:
  http_addr: "localhost:8080"

doris:
  dsn: "analyst:${DORIS_PASSWORD}@tcp(localhost:9030)/"
  database: "shop"
  query_timeout: 30s

llm:
  base_url: "https://api.openai.com/v1"
  api_key: "${OPENAI_API_KEY}"
  model: "gpt-4o"

database:
  path: "%s"

auth:
  jwt_secret: "%s"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println("  Edit the doris and llm sections, then run: askdb-gateway serve")
	return nil
}

// parseNameFlag handles "--name value" and "--name=value".
func parseNameFlag(args []string) (string, error) {
	var name string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--name" || arg == "-n":
			if i+1 >= len(args) {
				return "", fmt.Errorf("--name requires a value")
			}
			name = args[i+1]
			i++
		case strings.HasPrefix(arg, "--name="):
			name = strings.TrimPrefix(arg, "--name=")
		default:
			return "", fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("--name flag is required")
	}
	return name, nil
}

func runToken() error {
	name, err := parseNameFlag(os.Args[2:])
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(name, 90*24*time.Hour)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Token for %s (valid 90 days):\n\n", name)
	fmt.Println(token)
	return nil
}

func runAPIKey(ctx context.Context) error {
	name, err := parseNameFlag(os.Args[2:])
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.Open(cfg.Database.Path, nil)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	key, err := auth.NewAPIKey(ctx, s, name)
	if err != nil {
		return fmt.Errorf("minting api key: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ API key for %s (shown once, store it now):\n\n", name)
	fmt.Println(key)
	return nil
}

func runProbe(ctx context.Context, path string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}
