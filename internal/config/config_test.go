package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := Default()
	assert.Equal(t, 16, cfg.MaxCachedTrees)
	assert.Equal(t, []string{"python"}, cfg.InstalledLanguages)
	assert.False(t, cfg.Debug)
	assert.NotEmpty(t, cfg.DBPath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestParse_YAML(t *testing.T) {
	t.Parallel()
	cfg, err := Parse([]byte(`
max_cached_trees: 4
installed_languages: [python, go]
language_name_to_scopes:
  python: [source.python, source.cython]
language_name_to_debounce_ms:
  go: 250
debug: true
db_path: /tmp/ledger.db
log:
  level: debug
  format: console
`))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.MaxCachedTrees)
	assert.Equal(t, []string{"python", "go"}, cfg.InstalledLanguages)
	assert.Equal(t, []string{"source.python", "source.cython"}, cfg.LanguageNameToScopes["python"])
	assert.Equal(t, 250*time.Millisecond, cfg.DebounceFor("go"))
	assert.Zero(t, cfg.DebounceFor("python"))
	assert.True(t, cfg.Debug)
	assert.Equal(t, "/tmp/ledger.db", cfg.DBPath)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"negative bound", "max_cached_trees: -1", "max_cached_trees"},
		{"negative debounce", "language_name_to_debounce_ms: {go: -5}", "language_name_to_debounce_ms.go"},
		{"empty scopes", "language_name_to_scopes: {go: []}", "language_name_to_scopes.go"},
		{"bad log format", "log: {format: xml}", "unknown format"},
		{"malformed yaml", "max_cached_trees: [", "parse yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// Environment tests mutate process state and cannot run in parallel.

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sapling.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_cached_trees: 4\ndebug: false\n"), 0o644))

	t.Setenv("SAPLING_MAX_CACHED_TREES", "9")
	t.Setenv("SAPLING_INSTALLED_LANGUAGES", "rust,go")
	t.Setenv("SAPLING_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.MaxCachedTrees)
	assert.Equal(t, []string{"rust", "go"}, cfg.InstalledLanguages)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnvKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "max_cached_trees", envKey("SAPLING_MAX_CACHED_TREES"))
	assert.Equal(t, "log.format", envKey("SAPLING_LOG_FORMAT"))
	assert.Equal(t, "db_path", envKey("SAPLING_DB_PATH"))
}
