package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Equal(t, DefaultMaxTokens, cfg.MaxTokens)
	assert.Nil(t, cfg.Temperature)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "vault.bin"), cfg.VaultPath)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "model: gpt-4.1\ntemperature: 0.3\nmax-tokens: 1024\nollama-url: http://box:11434\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", cfg.Model)
	require.NotNil(t, cfg.Temperature)
	assert.Equal(t, 0.3, *cfg.Temperature)
	assert.Equal(t, 1024, cfg.MaxTokens)
	assert.Equal(t, "http://box:11434", cfg.OllamaURL)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: gpt-4o\nmax-tokens: 1024\n"), 0o600))

	t.Setenv("REFPILOT_MODEL", "o3-mini")
	t.Setenv("REFPILOT_TEMPERATURE", "0.7")
	t.Setenv("REFPILOT_MAX_TOKENS", "2048")
	t.Setenv("REFPILOT_DEBUG", "1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "o3-mini", cfg.Model)
	require.NotNil(t, cfg.Temperature)
	assert.Equal(t, 0.7, *cfg.Temperature)
	assert.Equal(t, 2048, cfg.MaxTokens)
	assert.True(t, cfg.Debug)
}

func TestInvalidEnvValuesIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("REFPILOT_TEMPERATURE", "hot")
	t.Setenv("REFPILOT_MAX_TOKENS", "-1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, cfg.Temperature)
	assert.Equal(t, DefaultMaxTokens, cfg.MaxTokens)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	temp := 0.5
	cfg := &Config{Model: "gpt-4o-mini", Temperature: &temp, MaxTokens: 512, VaultPath: "/tmp/v.bin"}

	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", loaded.Model)
	require.NotNil(t, loaded.Temperature)
	assert.Equal(t, 0.5, *loaded.Temperature)
	assert.Equal(t, 512, loaded.MaxTokens)
	assert.Equal(t, "/tmp/v.bin", loaded.VaultPath)
}

func TestDefaultDirHonorsXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "refpilot"), DefaultDir())
}
