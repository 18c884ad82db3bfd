// Package common provides shared utilities for topicforge.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for topicforge.
type Config struct {
	Environment string        `toml:"environment"`
	Server      ServerConfig  `toml:"server"`
	Store       StoreConfig   `toml:"store"`
	Worker      WorkerConfig  `toml:"worker"`
	LLM         LLMConfig     `toml:"llm"`
	Auth        AuthConfig    `toml:"auth"`
	Logging     LoggingConfig `toml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StoreConfig holds the durable store's location and lock-wait budget.
type StoreConfig struct {
	Path        string `toml:"path"`         // STORE_PATH, default "./data/app.db"
	BusyTimeout string `toml:"busy_timeout"` // STORE_BUSY_TIMEOUT, default "30s"
}

// GetBusyTimeout parses BusyTimeout, defaulting to 30s.
func (c *StoreConfig) GetBusyTimeout() time.Duration {
	d, err := time.ParseDuration(c.BusyTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// WorkerConfig holds the Worker Pool's batching and concurrency knobs.
type WorkerConfig struct {
	BatchSize    int    `toml:"batch_size"`    // WORKER_BATCH_SIZE, hard cap 5
	PollInterval string `toml:"poll_interval"` // WORKER_POLL_INTERVAL, default "10s"
	MaxParallel  int    `toml:"max_parallel"`  // WORKER_MAX_PARALLEL, executor capacity W
	StaleTimeout string `toml:"stale_timeout"` // WORKER_STALE_TIMEOUT, default "30m"
}

// GetPollInterval parses PollInterval, defaulting to 10s.
func (c *WorkerConfig) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetStaleTimeout parses StaleTimeout, defaulting to 30m.
func (c *WorkerConfig) GetStaleTimeout() time.Duration {
	d, err := time.ParseDuration(c.StaleTimeout)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// ClaimSize returns min(30, 10*BatchSize), the Worker Pool's per-tick claim
// limit.
func (c *WorkerConfig) ClaimSize() int {
	n := 10 * c.BatchSize
	if n > 30 {
		return 30
	}
	if n < c.BatchSize {
		return c.BatchSize
	}
	return n
}

// LLMConfig holds the remote LLM client's credential pool and timing.
type LLMConfig struct {
	APIKeys     []string `toml:"api_keys"` // LLM_API_KEYS, comma-separated pool
	Model       string   `toml:"model"`
	Timeout     string   `toml:"timeout"`      // LLM_TIMEOUT, default "30s"
	KeyCooldown string   `toml:"key_cooldown"` // LLM_KEY_COOLDOWN, default "60s"
}

// GetTimeout parses Timeout, defaulting to 30s.
func (c *LLMConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetKeyCooldown parses KeyCooldown, defaulting to 60s.
func (c *LLMConfig) GetKeyCooldown() time.Duration {
	d, err := time.ParseDuration(c.KeyCooldown)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// AuthConfig holds the admin-endpoint JWT guard configuration.
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	TokenExpiry  string `toml:"token_expiry"`
	AdminPassHash string `toml:"admin_password_hash"` // bcrypt hash, ADMIN_PASSWORD_HASH
}

// GetTokenExpiry parses TokenExpiry, defaulting to 24h.
func (c *AuthConfig) GetTokenExpiry() time.Duration {
	d, err := time.ParseDuration(c.TokenExpiry)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// NewDefaultConfig returns a Config with the defaults from the operator
// config table.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Store: StoreConfig{
			Path:        "./data/app.db",
			BusyTimeout: "30s",
		},
		Worker: WorkerConfig{
			BatchSize:    5,
			PollInterval: "10s",
			MaxParallel:  80,
			StaleTimeout: "30m",
		},
		LLM: LLMConfig{
			Model:       "gemini-2.0-flash",
			Timeout:     "30s",
			KeyCooldown: "60s",
		},
		Auth: AuthConfig{
			JWTSecret:     "dev-jwt-secret-change-in-production",
			TokenExpiry:   "24h",
			AdminPassHash: "",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Outputs:    []string{"console", "file"},
			FilePath:   "./logs/topicforge.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if config.Worker.BatchSize <= 0 || config.Worker.BatchSize > 5 {
		config.Worker.BatchSize = 5
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TOPICFORGE_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("TOPICFORGE_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("TOPICFORGE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("TOPICFORGE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if v := os.Getenv("STORE_PATH"); v != "" {
		config.Store.Path = v
	}
	if v := os.Getenv("STORE_BUSY_TIMEOUT"); v != "" {
		config.Store.BusyTimeout = v
	}

	if v := os.Getenv("WORKER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Worker.BatchSize = n
		}
	}
	if v := os.Getenv("WORKER_POLL_INTERVAL"); v != "" {
		config.Worker.PollInterval = v
	}
	if v := os.Getenv("WORKER_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Worker.MaxParallel = n
		}
	}
	if v := os.Getenv("WORKER_STALE_TIMEOUT"); v != "" {
		config.Worker.StaleTimeout = v
	}

	if v := os.Getenv("LLM_API_KEYS"); v != "" {
		keys := strings.Split(v, ",")
		cleaned := make([]string, 0, len(keys))
		for _, k := range keys {
			k = strings.TrimSpace(k)
			if k != "" {
				cleaned = append(cleaned, k)
			}
		}
		config.LLM.APIKeys = cleaned
	}
	if v := os.Getenv("LLM_TIMEOUT"); v != "" {
		config.LLM.Timeout = v
	}
	if v := os.Getenv("LLM_KEY_COOLDOWN"); v != "" {
		config.LLM.KeyCooldown = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		config.LLM.Model = v
	}

	if v := os.Getenv("TOPICFORGE_AUTH_JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}
	if v := os.Getenv("TOPICFORGE_AUTH_TOKEN_EXPIRY"); v != "" {
		config.Auth.TokenExpiry = v
	}
	if v := os.Getenv("ADMIN_PASSWORD_HASH"); v != "" {
		config.Auth.AdminPassHash = v
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
