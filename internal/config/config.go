// ABOUTME: Configuration loading and parsing for askdb-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Doris     DorisConfig     `yaml:"doris"`
	LLM       LLMConfig       `yaml:"llm"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	StatusInterval    time.Duration `yaml:"-"`
	StatusIntervalRaw string        `yaml:"status_interval"`
}

// DorisConfig holds the analytics database connection settings. The DSN is
// standard MySQL-protocol form; Doris speaks the MySQL wire protocol.
type DorisConfig struct {
	DSN      string `yaml:"dsn"`
	Database string `yaml:"database"`

	QueryTimeout    time.Duration `yaml:"-"`
	QueryTimeoutRaw string        `yaml:"query_timeout"`
}

// LLMConfig holds the OpenAI-compatible model endpoint settings.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// PipelineConfig tunes query processing.
type PipelineConfig struct {
	MaxRetries          int     `yaml:"max_retries"`
	MaxResultRows       int     `yaml:"max_result_rows"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	ExamplesFile        string  `yaml:"examples_file"`
}

// SessionsConfig tunes the session registry.
type SessionsConfig struct {
	MailboxSize int `yaml:"mailbox_size"`

	IdleTimeout     time.Duration `yaml:"-"`
	IdleTimeoutRaw  string        `yaml:"idle_timeout"`
	ReapInterval    time.Duration `yaml:"-"`
	ReapIntervalRaw string        `yaml:"reap_interval"`
}

// MetadataConfig tunes the schema cache.
type MetadataConfig struct {
	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

// AuthConfig holds authentication configuration. An empty jwt_secret
// disables auth entirely.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// DatabaseConfig holds the local state database path.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file and returns a parsed Config. Environment
// variables in the format ${VAR_NAME} are expanded; duration strings become
// time.Duration values; defaults fill anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with environment variable
// values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.StatusInterval == 0 {
		c.Server.StatusInterval = 30 * time.Second
	}
	if c.Doris.QueryTimeout == 0 {
		c.Doris.QueryTimeout = 30 * time.Second
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o"
	}
	if c.Pipeline.MaxRetries == 0 {
		c.Pipeline.MaxRetries = 3
	}
	if c.Pipeline.MaxResultRows == 0 {
		c.Pipeline.MaxResultRows = 200
	}
	if c.Sessions.MailboxSize == 0 {
		c.Sessions.MailboxSize = 256
	}
	if c.Sessions.IdleTimeout == 0 {
		c.Sessions.IdleTimeout = 5 * time.Minute
	}
	if c.Sessions.ReapInterval == 0 {
		c.Sessions.ReapInterval = time.Minute
	}
	if c.Metadata.TTL == 0 {
		c.Metadata.TTL = time.Hour
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/askdb.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that required fields are present and sensible. Returns an
// error describing the first failure encountered.
func (c *Config) Validate() error {
	if c.Doris.DSN == "" {
		return fmt.Errorf("doris.dsn is required")
	}
	if c.Doris.Database == "" {
		return fmt.Errorf("doris.database is required")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if c.Pipeline.MaxRetries < 1 {
		return fmt.Errorf("pipeline.max_retries must be at least 1")
	}
	if c.Pipeline.SimilarityThreshold < 0 || c.Pipeline.SimilarityThreshold >= 1 {
		return fmt.Errorf("pipeline.similarity_threshold must be in [0, 1)")
	}
	if c.Sessions.MailboxSize < 1 {
		return fmt.Errorf("sessions.mailbox_size must be at least 1")
	}
	return nil
}

// parseDurations converts raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Server.StatusIntervalRaw, "server.status_interval", &cfg.Server.StatusInterval},
		{cfg.Doris.QueryTimeoutRaw, "doris.query_timeout", &cfg.Doris.QueryTimeout},
		{cfg.LLM.TimeoutRaw, "llm.timeout", &cfg.LLM.Timeout},
		{cfg.Sessions.IdleTimeoutRaw, "sessions.idle_timeout", &cfg.Sessions.IdleTimeout},
		{cfg.Sessions.ReapIntervalRaw, "sessions.reap_interval", &cfg.Sessions.ReapInterval},
		{cfg.Metadata.TTLRaw, "metadata.ttl", &cfg.Metadata.TTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
