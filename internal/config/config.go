// Package config loads and saves the application's YAML configuration
// file and applies environment-variable overrides on top of it. A
// missing file is not an error; defaults apply.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Defaults applied when the file or a field is absent.
const (
	DefaultModel     = "gpt-4o"
	DefaultMaxTokens = 4096
)

// Config is the application configuration, loaded from a YAML file.
type Config struct {
	// Model is the default model identifier for chat requests.
	Model string `yaml:"model"`

	// Temperature, when set, is passed through to the provider.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// MaxTokens caps the completion length. Zero means the default.
	MaxTokens int `yaml:"max-tokens"`

	// OllamaURL is the base URL of a local Ollama server. Empty means
	// the conventional localhost port.
	OllamaURL string `yaml:"ollama-url"`

	// OpenAICompatURL is the base URL of a local OpenAI-compatible
	// server such as LM Studio.
	OpenAICompatURL string `yaml:"openai-compat-url"`

	// VaultPath is the credential vault file. Empty means a file next
	// to the config.
	VaultPath string `yaml:"vault-path"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug"`
}

// DefaultDir returns the configuration directory, honoring
// XDG_CONFIG_HOME.
func DefaultDir() string {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, "refpilot")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".refpilot"
	}
	return filepath.Join(home, ".config", "refpilot")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Load reads the config file at path, fills in defaults, and applies
// environment overrides. A nonexistent file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Debugf("config: no file at %s, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyDefaults(path)
	cfg.applyEnv()
	return cfg, nil
}

// Save writes the config back to path, creating parent directories as
// needed. The file may hold a vault path, so keep it private.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults(path string) {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.VaultPath == "" {
		c.VaultPath = filepath.Join(filepath.Dir(path), "vault.bin")
	}
}

// applyEnv overrides file values from the environment. Variables win
// over the file so containers and CI can reconfigure without editing
// it.
func (c *Config) applyEnv() {
	if v := os.Getenv("REFPILOT_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("REFPILOT_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Temperature = &f
		} else {
			log.Warnf("config: invalid REFPILOT_TEMPERATURE %q ignored", v)
		}
	}
	if v := os.Getenv("REFPILOT_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxTokens = n
		} else {
			log.Warnf("config: invalid REFPILOT_MAX_TOKENS %q ignored", v)
		}
	}
	if v := os.Getenv("REFPILOT_OLLAMA_URL"); v != "" {
		c.OllamaURL = v
	}
	if v := os.Getenv("REFPILOT_OPENAI_COMPAT_URL"); v != "" {
		c.OpenAICompatURL = v
	}
	if v := os.Getenv("REFPILOT_VAULT_PATH"); v != "" {
		c.VaultPath = v
	}
	if v := os.Getenv("REFPILOT_DEBUG"); v == "true" || v == "1" {
		c.Debug = true
	}
}
