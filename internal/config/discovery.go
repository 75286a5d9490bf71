package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfig names the environment variable that overrides config discovery.
const EnvConfig = "LORE_CONFIG"

// Discover finds the config file by checking standard locations.
// Priority order: $LORE_CONFIG, ~/.config/lore/config.yaml, ./lore.yaml.
func Discover() (string, error) {
	if path := os.Getenv(EnvConfig); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("$%s points to %s: %w", EnvConfig, path, err)
		}
		return path, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(home, ".config", "lore", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	if _, err := os.Stat("lore.yaml"); err == nil {
		return "lore.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/lore/config.yaml, ./lore.yaml)", EnvConfig)
}
