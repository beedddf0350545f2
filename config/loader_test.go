package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peakfeed/cache-service/types"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFromFileOverlaysDefaults(t *testing.T) {
	path := writeConfigFile(t, `
name: "edge-cache"
server:
  http:
    port: 9090
logger:
  level: "info"
`)

	cfg, err := NewLoader().LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "edge-cache", cfg.Name)
	assert.Equal(t, 9090, cfg.Server.HTTP.Port)
	assert.Equal(t, "info", cfg.Logger.Level)

	// untouched sections keep their defaults
	assert.Equal(t, "localhost", cfg.Server.HTTP.Host)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, 1000, cfg.Invalidation.MaxItems)
	assert.True(t, cfg.Cron.Enabled)
}

func TestLoadFromFileEmptyPath(t *testing.T) {
	_, err := NewLoader().LoadFromFile("")

	assert.ErrorIs(t, err, types.ErrConfigNotFound)
}

func TestLoadFromFileMissingFile(t *testing.T) {
	_, err := NewLoader().LoadFromFile(filepath.Join(t.TempDir(), "missing.yml"))

	assert.Error(t, err)
}

func TestLoadFromFileInvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "name: [unclosed")

	_, err := NewLoader().LoadFromFile(path)
	assert.True(t, types.IsError(err, types.ErrConfigParseFailed))
}

func TestLoadFromFileValidationFailure(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http:
    port: 99999
`)

	_, err := NewLoader().LoadFromFile(path)
	assert.True(t, types.IsError(err, types.ErrConfigValidateFailed))
}

func TestDefaultsAreValid(t *testing.T) {
	l := NewLoader()

	assert.NoError(t, l.validator.Struct(l.Defaults()))
}
