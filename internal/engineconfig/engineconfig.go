// Package engineconfig layers optional, project-independent engine settings
// (log level, default worker cap, console output) over FORGE_ROOT, using a
// global/project/env/CLI precedence chain adapted to forge's own settings.
package engineconfig

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Settings are the engine-level knobs FORGE_ROOT does not cover: they
// govern the CLI/engine's own behavior, not a specific project's build.
type Settings struct {
	LogLevel       string `mapstructure:"log_level"`
	ConsoleLogging bool   `mapstructure:"console_logging"`
	MaxWorkers     int    `mapstructure:"max_workers"` // 0 means runtime.NumCPU()
}

// DefaultSettings returns the settings used when no config file, env var,
// or CLI override supplies one.
func DefaultSettings() Settings {
	return Settings{
		LogLevel:       "info",
		ConsoleLogging: true,
		MaxWorkers:     0,
	}
}

// Loader overlays global (~/.forge.yaml), project (.forge/config.yaml),
// and environment (FORGE_*) settings on top of the defaults, in that order
// of increasing precedence (CLI > env > project > global > defaults).
type Loader struct {
	v *viper.Viper
}

// NewLoader returns an engineconfig Loader, loading a .env file from the
// working directory if one is present.
func NewLoader() *Loader {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("FORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	defaults := DefaultSettings()
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("console_logging", defaults.ConsoleLogging)
	v.SetDefault("max_workers", defaults.MaxWorkers)

	return &Loader{v: v}
}

// Load resolves Settings for a build rooted at projectRoot, applying
// cliOverrides (from CLI flags) with the highest precedence.
func (l *Loader) Load(projectRoot string, cliOverrides map[string]interface{}) (Settings, error) {
	if err := l.loadGlobalConfig(); err != nil {
		return Settings{}, err
	}
	if err := l.loadProjectConfig(projectRoot); err != nil {
		return Settings{}, err
	}
	for key, value := range cliOverrides {
		if value != nil {
			l.v.Set(key, value)
		}
	}

	var settings Settings
	if err := l.v.Unmarshal(&settings, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// loadGlobalConfig reads ~/.forge.yaml, if present.
func (l *Loader) loadGlobalConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	globalConfig := filepath.Join(homeDir, ".forge.yaml")
	if _, err := os.Stat(globalConfig); err != nil {
		return nil
	}
	l.v.SetConfigFile(globalConfig)
	return l.v.ReadInConfig()
}

// loadProjectConfig reads <projectRoot>/.forge/config.yaml, if present,
// merged on top of the global config.
func (l *Loader) loadProjectConfig(projectRoot string) error {
	if projectRoot == "" {
		projectRoot = "."
	}
	configPath := filepath.Join(projectRoot, ".forge", "config.yaml")
	if _, err := os.Stat(configPath); err != nil {
		return nil
	}
	l.v.SetConfigFile(configPath)
	return l.v.MergeInConfig()
}
