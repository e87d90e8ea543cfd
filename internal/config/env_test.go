package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 50, cfg.Session.MaxParticipants)
	assert.Equal(t, 1000, cfg.Session.HistoryLimit)
	assert.Equal(t, 30*time.Second, cfg.Session.PresenceTimeout)
	assert.Equal(t, "100-M", cfg.RateLimit.REST)
	assert.False(t, cfg.Persistent())
}

func TestLoad_LayersFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cowrite.toml")

	err := os.WriteFile(path, []byte(`
port = "9000"

[session]
max_participants = 10
history_limit = 200
`), 0o600)
	require.NoError(t, err)

	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("COWRITE_CONFIG", path)
	t.Setenv("COWRITE_SESSION__MAX_PARTICIPANTS", "12")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 12, cfg.Session.MaxParticipants)
	assert.Equal(t, 200, cfg.Session.HistoryLimit)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_PrefixedEnvBeatsPlainEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PORT", "7000")
	t.Setenv("COWRITE_PORT", "7100")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "7100", cfg.Port)
}

func TestLoad_Validation(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("COWRITE_JWT_SECRET", "")

	_, err := Load("")
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "short")
	t.Setenv("ENVIRONMENT", "production")

	_, err = Load("")
	assert.ErrorContains(t, err, "at least 32 characters")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "error loading config file")
}
