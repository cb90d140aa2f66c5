package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SESSION_SECRET", "session")
	t.Setenv("CSRF_SECRET", "csrf")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "batch", cfg.RoleFetchMode)
	assert.Equal(t, 1, cfg.RoleFetchConcurrency)
	assert.False(t, cfg.PermissionDeleteGuard)
	assert.Equal(t, "*/15 * * * *", cfg.SnapshotRefreshCron)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigReadsDotEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("ROLE_FETCH_MODE", "")
	require.NoError(t, os.Unsetenv("ROLE_FETCH_MODE"))
	t.Setenv("PERMISSION_DELETE_GUARD", "true")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("ROLE_FETCH_MODE=per_role\nROLE_FETCH_CONCURRENCY=4\nPERMISSION_DELETE_GUARD=false\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("ROLE_FETCH_MODE")
		_ = os.Unsetenv("ROLE_FETCH_CONCURRENCY")
	})

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "per_role", cfg.RoleFetchMode)
	assert.Equal(t, 4, cfg.RoleFetchConcurrency)
	assert.True(t, cfg.PermissionDeleteGuard)
}

func TestLoadConfigRejectsUnknownFetchMode(t *testing.T) {
	setRequired(t)
	t.Setenv("ROLE_FETCH_MODE", "lazy")
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "ROLE_FETCH_MODE")
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("CSRF_SECRET", "csrf")
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
