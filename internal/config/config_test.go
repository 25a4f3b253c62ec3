package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "facegate.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Lockout.MaxFailureAttempts)
	require.True(t, cfg.Lockout.FailureResetOnSuccess)
	require.Equal(t, 120, cfg.Lockout.FailureTTLSeconds)
	require.Equal(t, 3600, cfg.Lockout.SweepIntervalSeconds)
	require.Equal(t, 24, cfg.Lockout.RetentionHours)
	require.Equal(t, "memory", cfg.Store.Backend)
	require.Equal(t, 60, cfg.ReloadSeconds)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("FACEGATE_MAX_FAILURE_ATTEMPTS", "3")
	t.Setenv("FACEGATE_STORE_BACKEND", "sqlite")
	t.Setenv("FACEGATE_FAILURE_RESET_ON_SUCCESS", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Lockout.MaxFailureAttempts)
	require.Equal(t, "sqlite", cfg.Store.Backend)
	require.False(t, cfg.Lockout.FailureResetOnSuccess)
}

func TestLoad_FileOverridesEnv(t *testing.T) {
	t.Setenv("FACEGATE_MAX_FAILURE_ATTEMPTS", "3")
	path := writeFile(t, "[lockout]\nmax_failure_attempts = 7\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Lockout.MaxFailureAttempts)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	path := writeFile(t, `
addr = ""
reload_seconds = -5

[lockout]
failure_ttl_seconds = 0
retention_hours = -1

[store]
backend = "oracle"

[recognition]
min_confidence = 7.5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, 60, cfg.ReloadSeconds)
	require.Equal(t, 120, cfg.Lockout.FailureTTLSeconds)
	require.Equal(t, 24, cfg.Lockout.RetentionHours)
	require.Equal(t, "memory", cfg.Store.Backend)
	require.InDelta(t, 0.85, cfg.Recognition.MinConfidence, 1e-9)
}

func TestLoad_DisabledLockoutNotClamped(t *testing.T) {
	path := writeFile(t, "[lockout]\nmax_failure_attempts = 0\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 0, cfg.Lockout.MaxFailureAttempts)
}

func TestLoad_BrokenFileKeepsEnvLayer(t *testing.T) {
	t.Setenv("FACEGATE_MAX_FAILURE_ATTEMPTS", "9")
	path := writeFile(t, "not toml {{{")

	cfg, err := Load(path)
	require.Error(t, err)
	require.Equal(t, 9, cfg.Lockout.MaxFailureAttempts)
}

func TestProvider_ReloadSwapsSnapshot(t *testing.T) {
	path := writeFile(t, "[lockout]\nmax_failure_attempts = 2\n")
	p := NewProvider(path, zap.NewNop())
	require.Equal(t, 2, p.MaxFailureAttempts())

	require.NoError(t, os.WriteFile(path, []byte("[lockout]\nmax_failure_attempts = 6\n"), 0o600))
	require.NoError(t, p.Reload())
	require.Equal(t, 6, p.MaxFailureAttempts())
}

func TestProvider_ReloadErrorKeepsLastKnownGood(t *testing.T) {
	path := writeFile(t, "[lockout]\nmax_failure_attempts = 2\n")
	p := NewProvider(path, zap.NewNop())

	require.NoError(t, os.WriteFile(path, []byte("{{{"), 0o600))
	require.Error(t, p.Reload())
	require.Equal(t, 2, p.MaxFailureAttempts())
}
