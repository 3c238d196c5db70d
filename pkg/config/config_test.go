package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jitbridge/jitbridge/pkg/types"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9172", cfg.Listen)
	assert.Equal(t, "enabled", cfg.Registration.Mode)
	assert.Equal(t, 4, cfg.Pool.Capacity)
	assert.Equal(t, 2*time.Minute, cfg.Pool.JobTimeout)
	assert.Equal(t, 15*time.Second, cfg.Session.Cooldown)
	assert.Equal(t, "fd42:6a69:7462::/64", cfg.WireGuard.PoolCIDR)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":8080"
registration:
  mode: capped
  cap: 50
pool:
  capacity: 8
  job_timeout: 90s
session:
  cooldown: 30s
  retention: 10m
wireguard:
  endpoint: "jit.example.com:51820"
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "capped", cfg.Registration.Mode)
	assert.Equal(t, 50, cfg.Registration.Cap)
	assert.Equal(t, 8, cfg.Pool.Capacity)
	assert.Equal(t, 90*time.Second, cfg.Pool.JobTimeout)
	assert.Equal(t, 30*time.Second, cfg.Session.Cooldown)
	assert.Equal(t, "jit.example.com:51820", cfg.WireGuard.Endpoint)

	// Untouched keys keep their defaults
	assert.Equal(t, "/var/lib/jitbridge", cfg.DataDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("JITBRIDGE_LISTEN", ":7000")
	t.Setenv("JITBRIDGE_REGISTRATION", "disabled")
	t.Setenv("JITBRIDGE_POOL_CAPACITY", "12")
	t.Setenv("JITBRIDGE_WG_ENDPOINT", "env.example.com:51820")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, "disabled", cfg.Registration.Mode)
	assert.Equal(t, 12, cfg.Pool.Capacity)
	assert.Equal(t, "env.example.com:51820", cfg.WireGuard.Endpoint)
}

func TestValidation(t *testing.T) {
	write := func(t *testing.T, body string) string {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))
		return path
	}

	t.Run("bad registration mode", func(t *testing.T) {
		_, err := Load(write(t, "registration:\n  mode: sometimes\n"))
		assert.Error(t, err)
	})

	t.Run("capped without cap", func(t *testing.T) {
		_, err := Load(write(t, "registration:\n  mode: capped\n"))
		assert.Error(t, err)
	})

	t.Run("zero capacity", func(t *testing.T) {
		_, err := Load(write(t, "pool:\n  capacity: 0\n"))
		assert.Error(t, err)
	})

	t.Run("retention shorter than cooldown", func(t *testing.T) {
		_, err := Load(write(t, "session:\n  cooldown: 1m\n  retention: 30s\n"))
		assert.Error(t, err)
	})
}

func TestRegistrationPolicy(t *testing.T) {
	cfg := Default()

	cfg.Registration = RegistrationConfig{Mode: "enabled"}
	assert.Equal(t, types.RegistrationEnabled, cfg.RegistrationPolicy().Mode)

	cfg.Registration = RegistrationConfig{Mode: "disabled"}
	assert.Equal(t, types.RegistrationDisabled, cfg.RegistrationPolicy().Mode)

	cfg.Registration = RegistrationConfig{Mode: "capped", Cap: 9}
	policy := cfg.RegistrationPolicy()
	assert.Equal(t, types.RegistrationCapped, policy.Mode)
	assert.Equal(t, 9, policy.Cap)
}
