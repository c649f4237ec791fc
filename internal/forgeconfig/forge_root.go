// Package forgeconfig parses and validates the FORGE_ROOT project
// configuration file.
package forgeconfig

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"
)

// ForgeRootConfig is the parsed contents of a project's FORGE_ROOT file.
type ForgeRootConfig struct {
	Project   ProjectConfig   `toml:"project"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Build     BuildConfig     `toml:"build"`
}

// ProjectConfig names and versions the project.
type ProjectConfig struct {
	Name        string `toml:"name"`
	Version     string `toml:"version"`
	Description string `toml:"description"`
}

// DiscoveryConfig controls how FORGE script files are found.
type DiscoveryConfig struct {
	Include      []string `toml:"include"`
	Exclude      []string `toml:"exclude"`
	UseGitignore bool     `toml:"use_gitignore"`
	MaxDepth     *int     `toml:"max_depth"`
}

// BuildConfig controls cache placement and global environment.
type BuildConfig struct {
	CacheDir  string            `toml:"cache_dir"`
	GlobalEnv map[string]string `toml:"global_env"`
}

const defaultCacheDir = "forge-out"

func defaultDiscovery() DiscoveryConfig {
	depth := 10
	return DiscoveryConfig{
		Include:      []string{"src", "lib", "examples", "."},
		Exclude:      nil,
		UseGitignore: true,
		MaxDepth:     &depth,
	}
}

// Load reads and validates a FORGE_ROOT file at path.
func Load(path string) (*ForgeRootConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := ForgeRootConfig{
		Discovery: defaultDiscovery(),
		Build:     BuildConfig{CacheDir: defaultCacheDir},
	}
	if err := toml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse FORGE_ROOT TOML: %w", err)
	}
	if cfg.Build.CacheDir == "" {
		cfg.Build.CacheDir = defaultCacheDir
	}
	if len(cfg.Discovery.Include) == 0 {
		cfg.Discovery.Include = defaultDiscovery().Include
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the project name, semver version, and discovery config.
func (c *ForgeRootConfig) Validate() error {
	if len(c.Project.Name) == 0 {
		return fmt.Errorf("project name cannot be empty")
	}
	if _, err := semver.NewVersion(c.Project.Version); err != nil {
		return fmt.Errorf("invalid version format: '%s'. Must be valid semver (e.g., '1.0.0'): %w", c.Project.Version, err)
	}
	if len(c.Discovery.Include) == 0 {
		return fmt.Errorf("discovery include patterns cannot be empty")
	}
	return nil
}

// Default returns a FORGE_ROOT config with sensible defaults for a new
// project named name.
func Default(name string) *ForgeRootConfig {
	return &ForgeRootConfig{
		Project:   ProjectConfig{Name: name, Version: "0.1.0"},
		Discovery: defaultDiscovery(),
		Build:     BuildConfig{CacheDir: defaultCacheDir},
	}
}

// Save serializes the config as TOML to path.
func (c *ForgeRootConfig) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize TOML: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
