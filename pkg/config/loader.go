package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the single YAML file read from the config directory.
const ConfigFileName = "cladc.yaml"

// Initialize loads, validates, and returns a ready-to-use configuration.
//
// Steps performed:
//  1. Read cladc.yaml from configDir (missing file is fine — defaults apply)
//  2. Expand environment variables
//  3. Parse YAML
//  4. Merge user values over built-in defaults
//  5. Validate
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"max_events", cfg.Buffers.MaxEvents,
		"max_buffer_size", cfg.Buffers.MaxBufferSize,
		"improvement_interval", cfg.Intervals.Improvement)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.configDir = configDir

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		slog.Info("No config file found, using built-in defaults", "path", path)
		return cfg, nil
	}
	if err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}

	expanded := ExpandEnv(data)

	user := &Config{}
	if err := yaml.Unmarshal(expanded, user); err != nil {
		return nil, NewLoadError(ConfigFileName, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	if err := mergeConfig(cfg, user); err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}
	return cfg, nil
}

// mergeConfig overlays non-zero user values onto the defaults.
func mergeConfig(dst, src *Config) error {
	if err := mergo.Merge(dst, src, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge configuration: %w", err)
	}
	return nil
}

// Reconfigure applies a patch to an existing configuration and returns a
// new validated Config. The receiver is never mutated; callers swap the
// returned value in atomically.
func Reconfigure(base *Config, patch *Config) (*Config, error) {
	next := clone(base)
	if err := mergeConfig(next, patch); err != nil {
		return nil, err
	}
	if err := Validate(next); err != nil {
		return nil, fmt.Errorf("reconfigure validation failed: %w", err)
	}
	return next, nil
}

// clone deep-copies a Config through YAML round-trip. Config is small and
// reconfiguration is rare, so simplicity wins over speed here.
func clone(c *Config) *Config {
	data, err := yaml.Marshal(c)
	if err != nil {
		out := *c
		return &out
	}
	next := &Config{}
	if err := yaml.Unmarshal(data, next); err != nil {
		out := *c
		return &out
	}
	next.configDir = c.configDir
	return next
}
