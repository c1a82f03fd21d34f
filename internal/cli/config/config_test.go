package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flexilite "github.com/slanska/flexilite-sub000"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(oldWd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, EngineBolt, cfg.Storage.Engine)
	assert.Equal(t, "flexilite.db", cfg.Storage.Path)
	assert.Equal(t, "ABORT", cfg.Alter.ValidationMode)
	assert.False(t, cfg.Log.Verbose)
	assert.Equal(t, flexilite.ValidateAbort, cfg.ValidationMode())
}

func TestLoadFromWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	content := `
storage:
  engine: SQLite
  path: data/app.sqlite
alter:
  validation_mode: ignore
log:
  verbose: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flexictl.yaml"), []byte(content), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, EngineSQLite, cfg.Storage.Engine)
	assert.Equal(t, "data/app.sqlite", cfg.Storage.Path)
	assert.Equal(t, flexilite.ValidateIgnore, cfg.ValidationMode())
	assert.True(t, cfg.Log.Verbose)
}

func TestLoadExplicitFile(t *testing.T) {
	chdir(t, t.TempDir())
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  engine: memory\n  path: \"\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, EngineMemory, cfg.Storage.Engine)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	chdir(t, t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("FLEXICTL_STORAGE_PATH", "/tmp/from-env.db")
	t.Setenv("FLEXICTL_ALTER_VALIDATION_MODE", "IGNORE")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.db", cfg.Storage.Path)
	assert.Equal(t, flexilite.ValidateIgnore, cfg.ValidationMode())
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "bolt with path",
			cfg:  Config{Storage: StorageConfig{Engine: "bolt", Path: "x.db"}, Alter: AlterConfig{ValidationMode: "ABORT"}},
		},
		{
			name: "memory without path",
			cfg:  Config{Storage: StorageConfig{Engine: "MEMORY"}},
		},
		{
			name:    "unknown engine",
			cfg:     Config{Storage: StorageConfig{Engine: "leveldb", Path: "x"}},
			wantErr: "storage.engine",
		},
		{
			name:    "missing path",
			cfg:     Config{Storage: StorageConfig{Engine: "sqlite"}},
			wantErr: "storage.path",
		},
		{
			name:    "bad validation mode",
			cfg:     Config{Storage: StorageConfig{Engine: "memory"}, Alter: AlterConfig{ValidationMode: "sometimes"}},
			wantErr: "alter.validation_mode",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(&tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOpenMemory(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{Engine: EngineMemory}}
	db, err := cfg.Open()
	require.NoError(t, err)
	defer db.Close()

	c := db.Connect()
	_, err = c.CreateClass("Note", []byte(`{"properties":{"title":{"rules":{"type":"text"}}}}`))
	require.NoError(t, err)
	names, err := c.ClassNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"Note"}, names)
}
