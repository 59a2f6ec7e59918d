package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppWiresStoresFromConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "tally.toml")
	content := `
environment = "development"

[server]
host = "127.0.0.1"
port = 0

[storage]
token_store_path = "` + filepath.Join(dir, "token-store.json") + `"
accounts_file = "` + filepath.Join(dir, "accounts.json") + `"
price_cache_dir = "` + filepath.Join(dir, "prices") + `"

[logging]
level = "error"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	t.Setenv("GEMINI_API_KEY", "")

	a, err := NewApp(configPath)
	require.NoError(t, err)

	assert.NotNil(t, a.Tokens)
	assert.NotNil(t, a.Accounts)
	assert.NotNil(t, a.Prices)
	assert.NotNil(t, a.Factory)
	assert.NotNil(t, a.Aggregator)
	assert.Nil(t, a.News, "news client must stay nil without an API key")
	assert.Equal(t, "127.0.0.1", a.Config.Server.Host)

	// The price cache directory is created on startup.
	info, err := os.Stat(filepath.Join(dir, "prices"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
