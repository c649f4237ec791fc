package engineconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReturnsDefaultsWhenNoFilesPresent(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader()
	settings, err := l.Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "info", settings.LogLevel)
	assert.True(t, settings.ConsoleLogging)
}

func TestLoadProjectConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".forge"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".forge", "config.yaml"), []byte("log_level: debug\n"), 0o644))

	l := NewLoader()
	settings, err := l.Load(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "debug", settings.LogLevel)
}

func TestLoadCLIOverrideWinsOverProjectConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".forge"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".forge", "config.yaml"), []byte("log_level: debug\n"), 0o644))

	l := NewLoader()
	settings, err := l.Load(dir, map[string]interface{}{"log_level": "error"})
	require.NoError(t, err)
	assert.Equal(t, "error", settings.LogLevel)
}
