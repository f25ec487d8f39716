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
	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, LockLocal, cfg.LockBackend)
	assert.Equal(t, "Europe/Madrid", cfg.Timezone)
	assert.Equal(t, "2.00", cfg.ExternalATMFee.String())
	assert.True(t, cfg.ExternalTransferRate.IsZero())
	assert.Equal(t, "@daily", cfg.ReconcileSchedule)
	assert.Equal(t, 10*time.Second, cfg.LockExpiry)
	assert.False(t, cfg.DevTools)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("LEDGER_DB_DSN", "postgres://ledger@localhost/ledger")
	t.Setenv("LEDGER_DB_MIGRATE", "false")
	t.Setenv("LOCK_BACKEND", "redis")
	t.Setenv("EXTERNAL_ATM_FEE", "1.5")
	t.Setenv("EXTERNAL_TRANSFER_RATE", "0.01")
	t.Setenv("EXTERNAL_TRANSFER_MIN_FEE", "0.50")
	t.Setenv("DEV_TOOLS", "true")
	t.Setenv("CACHE_TTL", "30s")

	cfg := Load()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, StorePostgres, cfg.StoreBackend)
	assert.False(t, cfg.DBMigrate)
	assert.Equal(t, LockRedis, cfg.LockBackend)
	assert.Equal(t, "1.50", cfg.ExternalATMFee.String())
	assert.Equal(t, "0.01", cfg.ExternalTransferRate.String())
	assert.Equal(t, "0.50", cfg.ExternalTransferMinFee.String())
	assert.True(t, cfg.DevTools)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
}

func TestLoad_MalformedNumbersFallBack(t *testing.T) {
	t.Setenv("PORT", "eighty")
	t.Setenv("CACHE_TTL", "soon")
	t.Setenv("DEV_TOOLS", "maybe")

	cfg := Load()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.False(t, cfg.DevTools)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("LOCK_BACKEND", "zookeeper")
	t.Setenv("EXTERNAL_ATM_FEE", "two euros")
	t.Setenv("EXTERNAL_TRANSFER_RATE", "-0.1")
	t.Setenv("LEDGER_TIMEZONE", "Mars/Olympus")
	t.Setenv("CALLER_JWT_SECRET", "short")

	err := Load().Validate()
	require.Error(t, err)
	for _, want := range []string{"STORE_BACKEND", "LOCK_BACKEND", "EXTERNAL_ATM_FEE", "EXTERNAL_TRANSFER_RATE", "LEDGER_TIMEZONE", "CALLER_JWT_SECRET"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_PostgresNeedsDSN(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	err := Load().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEDGER_DB_DSN")
}

func TestLocation(t *testing.T) {
	t.Setenv("LEDGER_TIMEZONE", "UTC")
	loc, err := Load().Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# local overrides\n" +
		"export DOTENV_PORT=7070\n" +
		"DOTENV_NAME=\"ledger # core\"\n" +
		"DOTENV_TZ=UTC # trailing\n" +
		"DOTENV_KEPT=file\n" +
		"not a pair\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("DOTENV_KEPT", "env")
	for _, k := range []string{"DOTENV_PORT", "DOTENV_NAME", "DOTENV_TZ"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "7070", os.Getenv("DOTENV_PORT"))
	assert.Equal(t, "ledger # core", os.Getenv("DOTENV_NAME"))
	assert.Equal(t, "UTC", os.Getenv("DOTENV_TZ"))
	assert.Equal(t, "env", os.Getenv("DOTENV_KEPT"))
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	assert.Error(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}
