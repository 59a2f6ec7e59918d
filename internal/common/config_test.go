package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnvOverrides(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TALLY_ENV", "TALLY_HOST", "TALLY_PORT", "TALLY_LOG_LEVEL",
		"ACCOUNTS_FILE", "TALLY_TOKEN_STORE", "TALLY_PRICE_CACHE",
		"TALLY_BROKER_LOGIN_URL", "GEMINI_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://login.questrade.com", cfg.Broker.LoginURL)
	assert.Equal(t, 31, cfg.Broker.ActivityWindow)
	assert.Equal(t, 10, cfg.Broker.HistoryYears)
	assert.Equal(t, "token-store.json", cfg.Storage.TokenStorePath)
}

func TestLoadConfigMergesFileOverDefaults(t *testing.T) {
	clearEnvOverrides(t)

	path := filepath.Join(t.TempDir(), "tally.toml")
	content := `
environment = "production"

[server]
port = 9090

[broker]
min_spacing = "500ms"
history_years = 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Broker.HistoryYears)
	// Untouched keys keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 31, cfg.Broker.ActivityWindow)
}

func TestLoadConfigSkipsMissingFiles(t *testing.T) {
	clearEnvOverrides(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfigBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tally.toml")
	require.NoError(t, os.WriteFile(path, []byte("not = [valid"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	clearEnvOverrides(t)
	t.Setenv("TALLY_ENV", "prod")
	t.Setenv("TALLY_PORT", "7070")
	t.Setenv("TALLY_LOG_LEVEL", "debug")
	t.Setenv("ACCOUNTS_FILE", "/tmp/accounts.json")
	t.Setenv("TALLY_BROKER_LOGIN_URL", "http://localhost:9999")
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/accounts.json", cfg.Storage.AccountsFile)
	assert.Equal(t, "http://localhost:9999", cfg.Broker.LoginURL)
	assert.Equal(t, "test-key", cfg.Clients.Gemini.APIKey)
}

func TestEnvOverridesIgnoreBadPort(t *testing.T) {
	clearEnvOverrides(t)
	t.Setenv("TALLY_PORT", "not-a-port")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestBrokerDurationFallbacks(t *testing.T) {
	b := BrokerConfig{MinSpacing: "bogus", Timeout: ""}
	assert.Equal(t, "200ms", b.GetMinSpacing().String())
	assert.Equal(t, "30s", b.GetTimeout().String())

	b = BrokerConfig{MinSpacing: "1s", Timeout: "2m"}
	assert.Equal(t, "1s", b.GetMinSpacing().String())
	assert.Equal(t, "2m0s", b.GetTimeout().String())
}
