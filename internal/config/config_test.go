package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"XDG_CONFIG_HOME", "MCP_PTY_DEACTIVATE_RESOURCES"} {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("mcp-pty", nil)
	require.NoError(t, err)
	assert.Equal(t, TransportStdio, cfg.Transport)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.False(t, cfg.DeactivateResources)
}

func TestLoadCLIOverridesEverything(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", dir)
	writeConfigFile(t, dir, `{"transport":"http","port":9999}`)

	cfg, err := Load("mcp-pty", []string{"--transport", "stdio", "--port", "1234"})
	require.NoError(t, err)
	assert.Equal(t, TransportStdio, cfg.Transport)
	assert.Equal(t, 1234, cfg.Port)
}

func TestLoadConfigFileOverridesEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("MCP_PTY_DEACTIVATE_RESOURCES", "true")
	dir := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", dir)
	writeConfigFile(t, dir, `{"deactivateResources":false}`)

	cfg, err := Load("mcp-pty", nil)
	require.NoError(t, err)
	assert.False(t, cfg.DeactivateResources)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("MCP_PTY_DEACTIVATE_RESOURCES", "true")
	os.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("mcp-pty", nil)
	require.NoError(t, err)
	assert.True(t, cfg.DeactivateResources)
}

func TestLoadRejectsInvalidTransport(t *testing.T) {
	clearEnv(t)
	os.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := Load("mcp-pty", []string{"--transport", "carrier-pigeon"})
	assert.Error(t, err)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	clearEnv(t)
	os.Setenv("XDG_CONFIG_HOME", t.TempDir())

	_, err := Load("mcp-pty", []string{"--port", "-1"})
	assert.Error(t, err)
}

func writeConfigFile(t *testing.T, xdgHome, contents string) {
	t.Helper()
	dir := filepath.Join(xdgHome, "mcp-pty")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(contents), 0o644))
}
