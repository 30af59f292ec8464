package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, DefaultSlackFraction, cfg.SlackFraction)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SlackFraction = -0.1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg.SlackFraction = 1.5
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = NewDefaultConfig()
	cfg.LogLevel = "verbose"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flatkv.json")

	cfg := NewDefaultConfig()
	cfg.SlackFraction = 0.35
	cfg.DataFile = "/tmp/s.db"
	cfg.LogLevel = "debug"
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0.35, loaded.SlackFraction)
	assert.Equal(t, "/tmp/s.db", loaded.DataFile)
	assert.Equal(t, "debug", loaded.LogLevel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadFromFile(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
