package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsEmptyCache(t *testing.T) {
	c := Load(filepath.Join(t.TempDir(), "cache.json"))
	assert.Equal(t, 0, c.RuleHashes.Len())
	assert.Equal(t, 0, c.FileHashes.Len())
}

func TestLoadCorruptFileReturnsEmptyCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")
	require.NoError(t, writeFile(path, "{not valid json"))

	c := Load(path)
	assert.Equal(t, 0, c.RuleHashes.Len())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "cache.json")

	c := New()
	c.RuleHashes.Set("rule-a", "deadbeef")
	c.MTimes.Set("src.c", time.Unix(1000, 0).UTC())
	c.FileHashes.Set("src.c", "abc123")
	c.ArtifactMetadata.Set("rule-a", ArtifactMetadata{
		Size:       42,
		Created:    time.Unix(2000, 0).UTC(),
		Compressed: false,
		Inputs:     []string{"src.c"},
	})

	require.NoError(t, c.Save(path))

	loaded := Load(path)
	hash, ok := loaded.RuleHashes.Get("rule-a")
	require.True(t, ok)
	assert.Equal(t, "deadbeef", hash)

	meta, ok := loaded.ArtifactMetadata.Get("rule-a")
	require.True(t, ok)
	assert.Equal(t, uint64(42), meta.Size)
	assert.Equal(t, []string{"src.c"}, meta.Inputs)
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")

	c := New()
	c.RuleHashes.Set("rule-a", "v1")
	require.NoError(t, c.Save(path))

	entries, err := filepath.Glob(filepath.Join(dir, ".cache-*.json.tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must not remain after a successful save")
}

func TestValidateAndCleanEvictsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.txt")
	require.NoError(t, writeFile(present, "hello"))

	c := New()
	c.FileHashes.Set("present.txt", "hash-present")
	c.MTimes.Set("present.txt", time.Now().Add(time.Hour))
	c.FileHashes.Set("missing.txt", "hash-missing")
	c.MTimes.Set("missing.txt", time.Now())

	c.ValidateAndClean(dir)

	assert.True(t, c.FileHashes.Has("present.txt"))
	assert.False(t, c.FileHashes.Has("missing.txt"))
	assert.False(t, c.MTimes.Has("missing.txt"))
}

func TestValidateAndCleanEvictsStaleMTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, writeFile(path, "hello"))

	c := New()
	c.FileHashes.Set("file.txt", "stale-hash")
	c.MTimes.Set("file.txt", time.Unix(0, 0))

	c.ValidateAndClean(dir)

	assert.False(t, c.FileHashes.Has("file.txt"))
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
