// ABOUTME: Tests for configuration loading and validation
// ABOUTME: Covers defaults, YAML parsing, env expansion, and bad input

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8420", cfg.Server.HTTPAddr)
	assert.Equal(t, "fs", cfg.Storage.Backend)
	assert.Equal(t, "workspace", cfg.Storage.Root)
	assert.Equal(t, 4, cfg.Fanout.Workers)
	assert.True(t, cfg.Watcher.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":9000"
storage:
  backend: sqlite
  path: /tmp/hub.db
fanout:
  workers: 8
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/hub.db", cfg.Storage.Path)
	assert.Equal(t, 8, cfg.Fanout.Workers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":7777"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.HTTPAddr)
	assert.Equal(t, "fs", cfg.Storage.Backend)
	assert.Equal(t, 4, cfg.Fanout.Workers)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("RELAY_TEST_ROOT", "/srv/relay")

	path := writeConfig(t, `
storage:
  backend: fs
  root: ${RELAY_TEST_ROOT}/workspace
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/relay/workspace", cfg.Storage.Root)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "storage: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "redis" }, "storage.backend"},
		{"fs without root", func(c *Config) { c.Storage.Root = "" }, "storage.root"},
		{"sqlite without path", func(c *Config) { c.Storage.Backend = "sqlite" }, "storage.path"},
		{"negative workers", func(c *Config) { c.Fanout.Workers = -1 }, "fanout.workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("memory backend needs nothing", func(t *testing.T) {
		cfg := Default()
		cfg.Storage.Backend = "memory"
		cfg.Storage.Root = ""
		assert.NoError(t, cfg.Validate())
	})
}
