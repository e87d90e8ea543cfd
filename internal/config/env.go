package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "COWRITE_"

var defaults = map[string]any{
	"environment":                 "development",
	"port":                        "8080",
	"allowed_origins":             []string{"http://localhost:3000"},
	"session.max_participants":    50,
	"session.history_limit":       1000,
	"session.presence_timeout":    "30s",
	"session.chat_retention":      500,
	"session.checkpoint_interval": "5s",
	"session.flush_interval":      "5s",
	"session.role_cache_ttl":      "30s",
	"rate_limit.edits_per_second": 30.0,
	"rate_limit.edit_burst":       60,
	"rate_limit.chat_per_minute":  20,
	"rate_limit.rest":             "100-M",
}

// plain names kept for existing deployments
var legacyEnv = map[string]string{
	"ENVIRONMENT":     "environment",
	"LOG_LEVEL":       "log_level",
	"PORT":            "port",
	"DATABASE_URL":    "database_url",
	"REDIS_URL":       "redis_url",
	"JWT_SECRET":      "jwt_secret",
	"ALLOWED_ORIGINS": "allowed_origins",
}

// Load layers defaults, an optional TOML file, plain env vars and
// COWRITE_* env vars, later layers winning. A double underscore nests:
// COWRITE_SESSION__MAX_PARTICIPANTS sets session.max_participants.
// configPath falls back to $COWRITE_CONFIG.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		_ = err // not an error - production environments may not have .env file
	}

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if configPath == "" {
		configPath = os.Getenv(envPrefix + "CONFIG")
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config file: %w", err)
		}
	}

	legacy := make(map[string]any)
	for name, key := range legacyEnv {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			legacy[key] = v
		}
	}

	if err := k.Load(confmap.Provider(legacy, "."), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		if key == "config" {
			return ""
		}
		return strings.ReplaceAll(key, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required settings and bounds.
func (c *Config) Validate() error {
	var errs []error

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET environment variable is required"))
	}

	if c.IsProduction() && len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters in production"))
	}

	if c.Session.MaxParticipants < 1 {
		errs = append(errs, fmt.Errorf("session.max_participants must be positive, got %d", c.Session.MaxParticipants))
	}

	if c.Session.HistoryLimit < 1 {
		errs = append(errs, fmt.Errorf("session.history_limit must be positive, got %d", c.Session.HistoryLimit))
	}

	if c.RedisURL != "" && c.DatabaseURL == "" {
		errs = append(errs, errors.New("REDIS_URL requires DATABASE_URL: buffered writes need a database to flush to"))
	}

	return errors.Join(errs...)
}
