package config

import "time"

type Config struct {
	Environment    string   `koanf:"environment"`
	LogLevel       string   `koanf:"log_level"`
	Port           string   `koanf:"port"`
	DatabaseURL    string   `koanf:"database_url"`
	RedisURL       string   `koanf:"redis_url"`
	JWTSecret      string   `koanf:"jwt_secret"`
	AllowedOrigins []string `koanf:"allowed_origins"`

	Session   SessionConfig   `koanf:"session"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

// SessionConfig bounds live rooms.
type SessionConfig struct {
	MaxParticipants    int           `koanf:"max_participants"`
	HistoryLimit       int           `koanf:"history_limit"`
	PresenceTimeout    time.Duration `koanf:"presence_timeout"`
	ChatRetention      int           `koanf:"chat_retention"`
	CheckpointInterval time.Duration `koanf:"checkpoint_interval"`
	FlushInterval      time.Duration `koanf:"flush_interval"`
	RoleCacheTTL       time.Duration `koanf:"role_cache_ttl"`
}

// RateLimitConfig limits websocket clients and REST callers.
type RateLimitConfig struct {
	EditsPerSecond float64 `koanf:"edits_per_second"`
	EditBurst      int     `koanf:"edit_burst"`
	ChatPerMinute  int     `koanf:"chat_per_minute"`
	REST           string  `koanf:"rest"` // ulule format, e.g. "100-M"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Persistent reports whether rooms are stored in Postgres.
func (c *Config) Persistent() bool {
	return c.DatabaseURL != ""
}
