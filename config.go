package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// IdentityConfig points at the identity service
type IdentityConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Secret     string        `yaml:"secret"`
	BatchSize  int           `yaml:"batch_size"`
	BatchDelay time.Duration `yaml:"batch_delay"`
	Retry      RetryPolicy   `yaml:"retry"`
}

// Config is the server configuration
type Config struct {
	Addr       string         `yaml:"addr"`
	ClientDir  string         `yaml:"client_dir"`
	DBPath     string         `yaml:"db_path"`
	LevelsPath string         `yaml:"levels"`
	TickRate   int            `yaml:"tick_rate"`
	CellSize   float64        `yaml:"cell_size"`
	Arcade     ArcadeConfig   `yaml:"arcade"`
	Identity   IdentityConfig `yaml:"identity"`
	LogLevel   string         `yaml:"log_level"`
	LogPretty  bool           `yaml:"log_pretty"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	return Config{
		Addr:       ":8080",
		DBPath:     "zombie-blaster.db",
		LevelsPath: "levels.yaml",
		TickRate:   TickRate,
		CellSize:   DefaultCellSize,
		Arcade:     DefaultArcadeConfig(),
		Identity: IdentityConfig{
			BaseURL:    "http://localhost:9090",
			BatchSize:  10,
			BatchDelay: 500 * time.Millisecond,
			Retry:      DefaultRetryPolicy(),
		},
		LogLevel: "info",
	}
}

// LoadConfig reads .env (if present), then the YAML file (if present),
// then applies environment overrides
func LoadConfig(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str("ZB_ADDR", &c.Addr)
	str("ZB_CLIENT_DIR", &c.ClientDir)
	str("ZB_DB_PATH", &c.DBPath)
	str("ZB_LEVELS", &c.LevelsPath)
	str("IDENTITY_URL", &c.Identity.BaseURL)
	str("IDENTITY_SECRET", &c.Identity.Secret)
	str("LOG_LEVEL", &c.LogLevel)

	if v, ok := os.LookupEnv("LOG_PRETTY"); ok {
		c.LogPretty = v == "1" || strings.EqualFold(v, "true")
	}
	if v, ok := os.LookupEnv("IDENTITY_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("IDENTITY_TIMEOUT: %w", err)
		}
		c.Identity.Retry.Timeout = d
	}
	if v, ok := os.LookupEnv("IDENTITY_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("IDENTITY_RETRIES: %w", err)
		}
		c.Identity.Retry.Attempts = n
	}
	return nil
}

// Validate rejects settings the server cannot run with
func (c Config) Validate() error {
	if c.TickRate <= 0 || c.TickRate > 240 {
		return fmt.Errorf("tick_rate %d out of range", c.TickRate)
	}
	if c.CellSize <= 0 {
		return fmt.Errorf("cell_size must be positive")
	}
	if c.Arcade.SessionDuration <= 0 || c.Arcade.CountdownDuration < 0 {
		return fmt.Errorf("arcade durations must be positive")
	}
	if c.Identity.BatchSize <= 0 {
		return fmt.Errorf("identity.batch_size must be positive")
	}
	return nil
}

// EngineConfig derives the per-session engine tuning
func (c Config) EngineConfig() EngineConfig {
	ec := DefaultEngineConfig()
	ec.CellSize = c.CellSize
	ec.Arcade = c.Arcade
	ec.Retry = c.Identity.Retry
	return ec
}

// SetupLogging configures the global zerolog logger
func SetupLogging(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
