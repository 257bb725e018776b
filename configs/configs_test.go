package configs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Ledger.Storage)
	assert.False(t, cfg.UsesDatabase())
	assert.Equal(t, time.Duration(0), cfg.Ledger.CloseBuffer)
	assert.Equal(t, 100, cfg.Ledger.MaxPageSize)
}

func TestLoad_FileEnvAndSubstitution(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: ${LEDGER_TEST_PORT}
  logLevel: warn
ledger:
  storage: postgres
  closeBuffer: 30s
  maxPageSize: 25
funds:
  openingBalance: "12.5"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LEDGER_TEST_PORT=9090\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LEDGER_TEST_PORT") })
	t.Setenv("LEDGER_MAXPAGESIZE", "10")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Server.LogLevel)
	assert.True(t, cfg.UsesDatabase())
	assert.Equal(t, 30*time.Second, cfg.Ledger.CloseBuffer)
	assert.Equal(t, 10, cfg.Ledger.MaxPageSize, "environment overrides the file")
	assert.Equal(t, "12.5", cfg.Funds.OpeningBalance)
}
