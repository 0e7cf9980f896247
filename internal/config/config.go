// Package config loads sapling settings from defaults, an optional YAML file,
// and SAPLING_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/jward/sapling/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. SAPLING_MAX_CACHED_TREES.
const EnvPrefix = "SAPLING_"

// DefaultMaxCachedTrees bounds the tree cache when nothing else is configured.
const DefaultMaxCachedTrees = 16

// Config holds every sapling setting.
type Config struct {
	MaxCachedTrees     int      `koanf:"max_cached_trees"`
	InstalledLanguages []string `koanf:"installed_languages"`

	// LanguageNameToScopes replaces the built-in scopes of the named
	// languages.
	LanguageNameToScopes map[string][]string `koanf:"language_name_to_scopes"`

	// LanguageNameToDebounceMS delays re-parsing after edits, per language.
	LanguageNameToDebounceMS map[string]int `koanf:"language_name_to_debounce_ms"`

	// Debug logs every edit whose replay did not reproduce the buffer text.
	Debug bool `koanf:"debug"`

	// DBPath locates the language ledger.
	DBPath string `koanf:"db_path"`

	Log logging.Config `koanf:"log"`
}

// Load reads path, when non-empty, then applies environment overrides.
// A named file that does not exist is an error.
func Load(path string) (*Config, error) {
	var content []byte
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		content = data
	}
	return load(content, true)
}

// Parse builds a Config from YAML content alone, ignoring the environment.
func Parse(content []byte) (*Config, error) {
	return load(content, false)
}

func load(content []byte, withEnv bool) (*Config, error) {
	k := koanf.New(".")

	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if withEnv {
		if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
			return nil, fmt.Errorf("config: load environment: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps SAPLING_MAX_CACHED_TREES to max_cached_trees and
// SAPLING_LOG_LEVEL to log.level.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if rest, ok := strings.CutPrefix(key, "log_"); ok {
		return "log." + rest
	}
	return key
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.MaxCachedTrees == 0 {
		cfg.MaxCachedTrees = DefaultMaxCachedTrees
	}
	if len(cfg.InstalledLanguages) == 0 {
		cfg.InstalledLanguages = []string{"python"}
	}
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath()
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// DefaultDBPath returns the ledger location under the user config directory,
// or a file in the working directory when that cannot be determined.
func DefaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".sapling.db"
	}
	return filepath.Join(dir, "sapling", "sapling.db")
}

// Validate checks the configuration for values the engine cannot honor.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxCachedTrees < 1 {
		errs = append(errs, fmt.Errorf("max_cached_trees must be at least 1, got %d", c.MaxCachedTrees))
	}
	for lang, ms := range c.LanguageNameToDebounceMS {
		if ms < 0 {
			errs = append(errs, fmt.Errorf("language_name_to_debounce_ms.%s must not be negative, got %d", lang, ms))
		}
	}
	for lang, scopes := range c.LanguageNameToScopes {
		if len(scopes) == 0 {
			errs = append(errs, fmt.Errorf("language_name_to_scopes.%s is empty", lang))
		}
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}

// DebounceFor returns the re-parse delay configured for lang.
func (c *Config) DebounceFor(lang string) time.Duration {
	return time.Duration(c.LanguageNameToDebounceMS[lang]) * time.Millisecond
}
