package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, defaults and validates the config file at
// configPath. Relative data_dir, db_path and extension dirs are resolved
// against the directory holding the file.
func Load(configPath string) (*Config, error) {
	cfg, err := Read(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation, for callers that report problems
// rather than refuse to start.
func Read(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", absPath, err)
	}
	cfg.resolvePaths(filepath.Dir(absPath))
	return cfg, nil
}

// Parse decodes YAML config data, expands ${VAR} references and applies
// defaults. Unknown keys are rejected. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolateEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return applyDefaults(cfg), nil
}

func applyDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Mode == "" {
		cfg.Mode = defaults.Mode
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaults.DataDir
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "lore.db")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaults.LogFormat
	}

	ext := &cfg.Extensions
	if len(ext.Dirs) == 0 {
		ext.Dirs = defaults.Extensions.Dirs
	}
	if ext.Isolation == "" {
		ext.Isolation = defaults.Extensions.Isolation
	}
	if ext.CallTimeout == 0 {
		ext.CallTimeout = defaults.Extensions.CallTimeout
	}
	if ext.JournalRetention == 0 {
		ext.JournalRetention = defaults.Extensions.JournalRetention
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	return cfg
}

func (cfg *Config) resolvePaths(baseDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	cfg.DataDir = abs(cfg.DataDir)
	cfg.DBPath = abs(cfg.DBPath)
	for i, dir := range cfg.Extensions.Dirs {
		cfg.Extensions.Dirs[i] = abs(dir)
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is so Validate can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

// Validate checks values Parse cannot reject on its own.
func (cfg *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error (got %q)", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return fmt.Errorf("log_format must be json or text (got %q)", cfg.LogFormat)
	}
	if cfg.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}

	switch cfg.Extensions.Isolation {
	case IsolationProcess, IsolationInProcess:
	default:
		return fmt.Errorf("extensions.isolation must be %q or %q (got %q)", IsolationProcess, IsolationInProcess, cfg.Extensions.Isolation)
	}
	if cfg.Extensions.CallTimeout <= 0 {
		return fmt.Errorf("extensions.call_timeout must be positive")
	}
	if cfg.Extensions.JournalRetention < 0 {
		return fmt.Errorf("extensions.journal_retention must not be negative")
	}
	for i, dir := range cfg.Extensions.Dirs {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("extensions.dirs[%d] is empty", i)
		}
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if m := envVarPattern.FindStringSubmatch(cfg.API.APIKey); m != nil {
			return fmt.Errorf("api.api_key: environment variable ${%s} is not set", m[1])
		}
		for i, tok := range cfg.API.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.tokens[%d].token is required", i)
			}
			if m := envVarPattern.FindStringSubmatch(tok.Token); m != nil {
				return fmt.Errorf("api.tokens[%d].token: environment variable ${%s} is not set", i, m[1])
			}
		}
	}
	return nil
}
