// Package cache implements the persistent build cache: an on-disk map of
// rule fingerprints, input content hashes, input mtimes, and artifact
// metadata. The cache is purely an accelerator — losing it forces a full
// rebuild, never a wrong one.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/forgebuild/forge/internal/concurrent"
)

// ArtifactMetadata records what was produced for a rule the last time it
// ran, used to order dependency staleness checks and to pick decompression
// on restore.
type ArtifactMetadata struct {
	Size       uint64    `json:"size"`
	Created    time.Time `json:"created"`
	Compressed bool      `json:"compressed"`
	Inputs     []string  `json:"inputs"`
}

// serializedCache is the on-disk shape of a Cache: the four sub-maps as
// plain maps, combined into a single top-level document.
type serializedCache struct {
	RuleHashes       map[string]string           `json:"rule_hashes"`
	MTimes           map[string]time.Time        `json:"mtimes"`
	FileHashes       map[string]string           `json:"file_hashes"`
	ArtifactMetadata map[string]ArtifactMetadata `json:"artifact_metadata"`
}

// Cache holds the build engine's persistent state across invocations. All
// four sub-maps are concurrency-safe: distinct rules never contend for the
// same key because the graph schedules a rule's dependencies to completion
// before the rule itself starts.
type Cache struct {
	RuleHashes       *concurrent.Map[string, string]
	MTimes           *concurrent.Map[string, time.Time]
	FileHashes       *concurrent.Map[string, string]
	ArtifactMetadata *concurrent.Map[string, ArtifactMetadata]
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		RuleHashes:       concurrent.NewMap[string, string](),
		MTimes:           concurrent.NewMap[string, time.Time](),
		FileHashes:       concurrent.NewMap[string, string](),
		ArtifactMetadata: concurrent.NewMap[string, ArtifactMetadata](),
	}
}

// Load reads a persisted cache from path. A missing or malformed file
// yields a fresh, empty cache rather than an error: the cache is never a
// source of truth, so losing it must only cost a full rebuild.
func Load(path string) *Cache {
	data, err := os.ReadFile(path)
	if err != nil {
		return New()
	}

	var doc serializedCache
	if err := json.Unmarshal(data, &doc); err != nil {
		return New()
	}

	c := New()
	for k, v := range doc.RuleHashes {
		c.RuleHashes.Set(k, v)
	}
	for k, v := range doc.MTimes {
		c.MTimes.Set(k, v)
	}
	for k, v := range doc.FileHashes {
		c.FileHashes.Set(k, v)
	}
	for k, v := range doc.ArtifactMetadata {
		c.ArtifactMetadata.Set(k, v)
	}
	return c
}

// Save writes the cache to path atomically: it serializes to a sibling
// temp file and renames it into place, so a crash mid-write never leaves a
// corrupt cache.json behind.
func (c *Cache) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	doc := serializedCache{
		RuleHashes:       c.RuleHashes.Snapshot(),
		MTimes:           c.MTimes.Snapshot(),
		FileHashes:       c.FileHashes.Snapshot(),
		ArtifactMetadata: c.ArtifactMetadata.Snapshot(),
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize cache: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".cache-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp cache file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to commit cache file: %w", err)
	}
	return nil
}

// ValidateAndClean scans the file-hash map and discards entries whose file
// no longer exists or whose on-disk mtime is newer than the cached one.
func (c *Cache) ValidateAndClean(projectRoot string) {
	var stale []string
	c.FileHashes.Range(func(path, _ string) bool {
		fullPath := filepath.Join(projectRoot, path)
		info, err := os.Stat(fullPath)
		if err != nil {
			stale = append(stale, path)
			return true
		}
		cachedMTime, ok := c.MTimes.Get(path)
		if !ok || info.ModTime().After(cachedMTime) {
			stale = append(stale, path)
		}
		return true
	})

	for _, path := range stale {
		c.FileHashes.Delete(path)
		c.MTimes.Delete(path)
	}
}
