package extension

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

const manifestFilename = "extension.yaml"

// Manifest is the on-disk description of an installed extension.
type Manifest struct {
	Name        string   `yaml:"name"`
	Package     string   `yaml:"package,omitempty"`
	Version     string   `yaml:"version,omitempty"`
	Module      string   `yaml:"module"`
	Description string   `yaml:"description,omitempty"`
	Permissions []string `yaml:"permissions,omitempty"`
}

// Installed is a discovered and validated extension.
type Installed struct {
	Name        string `json:"name"`
	Package     string `json:"package"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	Dir         string `json:"dir"` // absolute
	Route       Route  `json:"route"`
}

func validateManifest(m *Manifest) error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(m.Name, "/\\ ") {
		return fmt.Errorf("name %q must not contain slashes or spaces", m.Name)
	}
	if strings.TrimSpace(m.Module) == "" {
		return fmt.Errorf("module is required")
	}
	if strings.Contains(m.Module, "..") {
		return fmt.Errorf("module contains path traversal: %s", m.Module)
	}
	for _, p := range m.Permissions {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("permissions must not contain empty entries")
		}
	}
	return nil
}

// Fingerprint returns a short BLAKE3 digest of the file at path. It changes
// whenever the module is rebuilt, so it doubles as a cache-bust token.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open module: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash module: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)[:8]), nil
}
