package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, int64(100), cfg.Settlement.RoundingUnit)
	assert.Equal(t, "weekly", cfg.Payout.Cycle)
	assert.Equal(t, 5*time.Second, cfg.Outbox.PollInterval)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
server:
  port: 9090
database:
  driver: memory
payout:
  cycle: monthly
security:
  encryption_key: from-file
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	t.Setenv("SETTLEMENT_SERVER_PORT", "9191")
	t.Setenv("SETTLEMENT_ENCRYPTION_KEY", "from-env")
	t.Setenv("SETTLEMENT_DB_PASSWORD", "secret")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "monthly", cfg.Payout.Cycle)
	assert.Equal(t, "from-env", cfg.Security.EncryptionKey)
	assert.Equal(t, "secret", cfg.Database.Password)
	assert.Contains(t, cfg.Database.DSN(), "password=secret")
}

func TestLoadConfig_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("SETTLEMENT_DATABASE_DRIVER", "mongo")

	_, err := LoadConfig(t.TempDir())
	assert.Error(t, err)
}
