package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load reads a configuration file, applies VISA_* environment overrides and
// fills defaults. The format is chosen by extension: .yaml, .yml or .toml.
// The result is not validated; call Validate.
func Load(path string) (*FileConfig, error) {
	// Clean the path to prevent directory traversal attacks
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - Config file path is trusted (from admin/user)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(cleanPath))
	if err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadFromEnv builds a configuration from environment variables only.
func LoadFromEnv() (*FileConfig, error) {
	cfg := &FileConfig{}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("load from env: %w", err)
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// Parse decodes data in the format named by ext. Unknown fields are errors
// so that typos in key names do not silently drop settings.
func Parse(data []byte, ext string) (*FileConfig, error) {
	var cfg FileConfig

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("failed to parse config file: unknown key %q", undecoded[0].String())
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q (want .yaml, .yml or .toml)", ext)
	}

	return &cfg, nil
}
