package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerCreatesRotatingLogFile(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.LogDir = dir
	cfg.ConsoleEnabled = false

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Info("hello", RuleField("compile"))
	require.NoError(t, logger.Sync())

	_, err = os.Stat(filepath.Join(dir, "forge.log"))
	require.NoError(t, err)
}

func TestBatchFieldFormatsIndexOverTotal(t *testing.T) {
	f := BatchField(2, 5)
	assert.Equal(t, "batch", f.Key)
	assert.Equal(t, "2/5", f.String)
}

func TestWithRuleTagsChildLogger(t *testing.T) {
	logger := NewNopLogger()
	child := logger.WithRule("link")
	assert.NotNil(t, child)
}
