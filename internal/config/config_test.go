package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scanforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err) // explicit path must exist

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Pools.Discovery)
	assert.Equal(t, 40, cfg.Pools.Enumeration)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.StreamRead())
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Grace())
	assert.Zero(t, cfg.Timeouts.Global())
	assert.Equal(t, "results", cfg.Output.Dir)
	assert.False(t, cfg.Engine.ContinueOnDiscoveryFailure)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
pools:
  discovery: 2
  enumeration: 12
timeouts:
  global_seconds: 3600
  target_seconds: 900
output:
  dir: /var/lib/scanforge
engine:
  continue_on_discovery_failure: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Pools.Discovery)
	assert.Equal(t, 12, cfg.Pools.Enumeration)
	assert.Equal(t, time.Hour, cfg.Timeouts.Global())
	assert.Equal(t, 15*time.Minute, cfg.Timeouts.Target())
	assert.Equal(t, "/var/lib/scanforge", cfg.Output.Dir)
	assert.True(t, cfg.Engine.ContinueOnDiscoveryFailure)

	// Untouched knobs keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Timeouts.StreamRead())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SCANFORGE_POOLS_DISCOVERY", "3")
	t.Setenv("SCANFORGE_OUTPUT_DIR", "/tmp/sf")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Pools.Discovery)
	assert.Equal(t, "/tmp/sf", cfg.Output.Dir)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"zero discovery pool": `
pools:
  discovery: 0
`,
		"negative enumeration pool": `
pools:
  enumeration: -1
`,
		"zero stream read": `
timeouts:
  stream_read_seconds: 0
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}
