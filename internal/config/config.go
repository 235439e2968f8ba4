// Package config loads and validates the Foreman configuration file.
package config

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/foremanhq/foreman/internal/dedup"
	"github.com/foremanhq/foreman/internal/dispatch"
)

// Config represents the main configuration for Foreman.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Rules     []dispatch.Rule `yaml:"rules"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Runner    RunnerConfig    `yaml:"runner"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	Git       GitConfig       `yaml:"git"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// WebhookConfig configures inbound delivery verification
type WebhookConfig struct {
	Secret string `yaml:"secret"` // HMAC secret; supports ${ENV} expansion
}

// RuntimeConfig configures the agent runtime API client
type RuntimeConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"` // supports ${ENV} expansion
}

// RunnerConfig configures agent run behavior
type RunnerConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
	MaxConcurrent    int           `yaml:"max_concurrent"`
}

// DedupConfig configures delivery deduplication
type DedupConfig struct {
	Window time.Duration `yaml:"window"`

	// SlowSource widens the default window for trackers that redeliver
	// over minutes rather than seconds. Ignored when Window is set.
	SlowSource bool `yaml:"slow_source"`
}

// EffectiveWindow resolves the dedup window: an explicit setting wins,
// otherwise slow sources get the wide default.
func (d DedupConfig) EffectiveWindow() time.Duration {
	if d.Window > 0 {
		return d.Window
	}
	if d.SlowSource {
		return dedup.SlowSourceWindow
	}
	return dedup.DefaultWindow
}

// RedisConfig configures the optional shared dedup backend
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
}

// NATSConfig configures the optional run lifecycle bus
type NATSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	StreamName string `yaml:"stream_name"`
}

// GitConfig configures repository and worktree handling
type GitConfig struct {
	RepoDir       string `yaml:"repo_dir"`
	WorktreesRoot string `yaml:"worktrees_root"`
	BaseBranch    string `yaml:"base_branch"` // empty means detect from origin/HEAD
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// TelemetryConfig configures OpenTelemetry export
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LoggingConfig configures the structured log sink
type LoggingConfig struct {
	FilePath string `yaml:"file_path"` // JSONL sink; empty disables
}

// LoadConfigFromFile loads configuration from a YAML file at the specified path.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g. ${FOREMAN_WEBHOOK_SECRET}) before parsing YAML
	expanded := os.ExpandEnv(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:   ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Runtime: RuntimeConfig{
			BaseURL: "http://localhost:3284",
		},
		Runner: RunnerConfig{
			Timeout:          30 * time.Minute,
			ProgressInterval: 60 * time.Second,
			MaxConcurrent:    4,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		NATS: NATSConfig{
			URL:        "nats://localhost:4222",
			StreamName: "FOREMAN",
		},
		Git: GitConfig{
			RepoDir:       ".",
			WorktreesRoot: ".foreman/worktrees",
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9090",
		},
	}
}

// Validate checks the configuration for fatal errors. Rule problems are
// fatal at load time so a bad config never half-starts.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Runtime.BaseURL == "" {
		return fmt.Errorf("runtime.base_url is required")
	}
	if c.Runner.MaxConcurrent <= 0 {
		return fmt.Errorf("runner.max_concurrent must be positive")
	}
	if err := dispatch.ValidateRules(c.Rules); err != nil {
		return fmt.Errorf("invalid rules: %w", err)
	}
	return nil
}

// GetRuntimeToken retrieves the agent runtime token from config, environment,
// or an interactive prompt, in that order.
// Environment variable: FOREMAN_RUNTIME_TOKEN
func (c *Config) GetRuntimeToken() (string, error) {
	if c.Runtime.Token != "" {
		return c.Runtime.Token, nil
	}
	if token := os.Getenv("FOREMAN_RUNTIME_TOKEN"); token != "" {
		return token, nil
	}

	// Prompt user for token (hidden input)
	fmt.Print("Enter agent runtime token: ")
	tokenBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println() // Print newline after hidden input
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}

	token := string(tokenBytes)
	if token == "" {
		return "", fmt.Errorf("token cannot be empty")
	}

	return token, nil
}
