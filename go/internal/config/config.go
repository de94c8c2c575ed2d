// Package config loads process configuration from an optional YAML file
// and environment variables. Environment variables win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/wissel/go/internal/dbconfig"
)

const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Store struct {
		Backend  string        `yaml:"backend"`
		Bucket   string        `yaml:"bucket"`
		MatchTTL time.Duration `yaml:"match_ttl"`
	} `yaml:"store"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`

	Sync struct {
		Debounce  time.Duration `yaml:"debounce"`
		Heartbeat time.Duration `yaml:"heartbeat"`
	} `yaml:"sync"`

	Match struct {
		// ProposeAtHalfStart raises a rotation proposal when a half starts.
		ProposeAtHalfStart bool `yaml:"propose_at_half_start"`
	} `yaml:"match"`

	Viewer struct {
		PollInterval time.Duration `yaml:"poll_interval"`
		Timeout      time.Duration `yaml:"timeout"`
	} `yaml:"viewer"`

	Archive struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"archive"`

	// Database always comes from DB_* variables.
	Database dbconfig.Config `yaml:"-"`
}

func Default() *Config {
	var c Config
	c.Port = "8080"
	c.LogLevel = "info"
	c.Store.Backend = BackendMemory
	c.Store.Bucket = "WISSEL"
	c.Store.MatchTTL = 24 * time.Hour
	c.Sync.Debounce = 300 * time.Millisecond
	c.Sync.Heartbeat = 10 * time.Second
	c.Match.ProposeAtHalfStart = true
	c.Viewer.PollInterval = 5 * time.Second
	c.Viewer.Timeout = 4 * time.Second
	return &c
}

// Load reads path, if set, over the defaults and then applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Store.Backend = strings.ToLower(getEnv("STORE_BACKEND", cfg.Store.Backend))
	cfg.Store.Bucket = getEnv("KV_BUCKET", cfg.Store.Bucket)
	cfg.Store.MatchTTL = getEnvAsDuration("MATCH_TTL", cfg.Store.MatchTTL)
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.Match.ProposeAtHalfStart = getEnvAsBool("PROPOSE_AT_HALF_START", cfg.Match.ProposeAtHalfStart)
	cfg.Archive.Enabled = getEnvAsBool("ARCHIVE_ENABLED", cfg.Archive.Enabled)
	cfg.Database = dbconfig.NewConfigFromEnv()

	// A NATS URL alone is enough to opt into the NATS backend.
	if os.Getenv("STORE_BACKEND") == "" && cfg.NATS.URL != "" {
		cfg.Store.Backend = BackendNATS
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("nats backend needs NATS_URL: %w", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("store backend %q: %w", c.Store.Backend, ErrInvalidConfig)
	}
	if c.Store.MatchTTL <= 0 {
		return fmt.Errorf("match ttl %s: %w", c.Store.MatchTTL, ErrInvalidConfig)
	}
	if c.Sync.Debounce <= 0 || c.Sync.Heartbeat <= 0 {
		return fmt.Errorf("sync intervals must be positive: %w", ErrInvalidConfig)
	}
	if c.Viewer.PollInterval <= 0 || c.Viewer.Timeout <= 0 {
		return fmt.Errorf("viewer intervals must be positive: %w", ErrInvalidConfig)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
