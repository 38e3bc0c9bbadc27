// Package config loads the application configuration from YAML with
// environment-variable fallbacks for deployment secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// maxConfigSize guards against accidentally pointing at a huge file.
const maxConfigSize = 1 << 20

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Engine    EngineConfig    `yaml:"engine"`
	Retention RetentionConfig `yaml:"retention"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StoreConfig selects and configures the session store backend
type StoreConfig struct {
	// Backend is memory or redis.
	Backend       string        `yaml:"backend"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	KeyTTL        time.Duration `yaml:"key_ttl"`
	KeyPrefix     string        `yaml:"key_prefix"`
}

// EngineConfig holds pipeline tunables
type EngineConfig struct {
	// ConfirmSecret signs confirmation tokens.
	ConfirmSecret string        `yaml:"confirm_secret"`
	ConfirmTTL    time.Duration `yaml:"confirm_ttl"`

	MaxToolCalls      int   `yaml:"max_tool_calls"`
	MaxModelCalls     int   `yaml:"max_model_calls"`
	MaxCostUnits      int64 `yaml:"max_cost_units"`
	SearchConcurrency int   `yaml:"search_concurrency"`

	MaxRetries      int           `yaml:"max_retries"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// RetentionConfig schedules the stale-session sweep and purge
type RetentionConfig struct {
	// Window is how long finished sessions are kept.
	Window time.Duration `yaml:"window"`
	// Schedule is a cron expression for the purge job.
	Schedule string `yaml:"schedule"`
}

// LoadConfig loads configuration from a YAML file. An empty path yields
// the defaults plus environment overrides.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if info.Size() > maxConfigSize {
			return nil, fmt.Errorf("config file too large: %d bytes", info.Size())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Apply defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.KeyPrefix == "" {
		cfg.Store.KeyPrefix = "vacaplan:"
	}
	if cfg.Engine.ConfirmTTL == 0 {
		cfg.Engine.ConfirmTTL = 10 * time.Minute
	}
	if cfg.Engine.MaxToolCalls == 0 {
		cfg.Engine.MaxToolCalls = 50
	}
	if cfg.Engine.MaxModelCalls == 0 {
		cfg.Engine.MaxModelCalls = 25
	}
	if cfg.Engine.MaxCostUnits == 0 {
		cfg.Engine.MaxCostUnits = 100000
	}
	if cfg.Engine.SearchConcurrency == 0 {
		cfg.Engine.SearchConcurrency = 5
	}
	if cfg.Engine.MaxRetries == 0 {
		cfg.Engine.MaxRetries = 3
	}
	if cfg.Engine.BackoffBase == 0 {
		cfg.Engine.BackoffBase = 500 * time.Millisecond
	}
	if cfg.Engine.CallTimeout == 0 {
		cfg.Engine.CallTimeout = 30 * time.Second
	}
	if cfg.Engine.BreakerFailures == 0 {
		cfg.Engine.BreakerFailures = 5
	}
	if cfg.Engine.BreakerCooldown == 0 {
		cfg.Engine.BreakerCooldown = time.Minute
	}
	if cfg.Retention.Window == 0 {
		cfg.Retention.Window = 24 * time.Hour
	}
	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = "@every 5m"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	// Load deployment settings from environment if not in config
	if v := os.Getenv("VACAPLAN_ADDR"); v != "" && cfg.Server.Addr == ":8080" {
		cfg.Server.Addr = v
	}
	if cfg.Engine.ConfirmSecret == "" {
		cfg.Engine.ConfirmSecret = os.Getenv("VACAPLAN_CONFIRM_SECRET")
	}
	if cfg.Store.RedisAddr == "" {
		cfg.Store.RedisAddr = os.Getenv("VACAPLAN_REDIS_ADDR")
	}
	if cfg.Store.RedisPassword == "" {
		cfg.Store.RedisPassword = os.Getenv("VACAPLAN_REDIS_PASSWORD")
	}
	if cfg.Store.RedisDB == 0 {
		if v := os.Getenv("VACAPLAN_REDIS_DB"); v != "" {
			db, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid VACAPLAN_REDIS_DB: %w", err)
			}
			cfg.Store.RedisDB = db
		}
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Engine.ConfirmSecret == "" {
		return fmt.Errorf("engine.confirm_secret is required")
	}
	switch c.Store.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "redis" && c.Store.RedisAddr == "" {
		return fmt.Errorf("store.redis_addr is required for the redis backend")
	}
	return nil
}
