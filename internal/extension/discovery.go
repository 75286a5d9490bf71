package extension

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry holds discovered extensions indexed by name.
type Registry struct {
	extensions map[string]*Installed
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		extensions: make(map[string]*Installed),
	}
}

// Get retrieves an extension by name.
func (r *Registry) Get(name string) (*Installed, bool) {
	ext, ok := r.extensions[name]
	return ext, ok
}

// Route returns the route for an extension by name.
func (r *Registry) Route(name string) (Route, bool) {
	ext, ok := r.extensions[name]
	if !ok {
		return Route{}, false
	}
	return ext.Route, true
}

// All returns all extensions sorted by name.
func (r *Registry) All() []*Installed {
	out := make([]*Installed, 0, len(r.extensions))
	for _, ext := range r.extensions {
		out = append(out, ext)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Add registers an extension in the registry.
func (r *Registry) Add(ext *Installed) error {
	if _, exists := r.extensions[ext.Name]; exists {
		return fmt.Errorf("extension %q already registered", ext.Name)
	}
	r.extensions[ext.Name] = ext
	return nil
}

// Discover scans roots for extension.yaml files and validates them.
// Roots are processed in input order; duplicate names keep the first
// discovered extension. Invalid extensions are logged but not fatal.
// Missing roots are skipped.
func Discover(roots []string, logger func(level, msg string, args ...any)) (*Registry, error) {
	if logger == nil {
		logger = func(level, msg string, args ...any) {}
	}

	registry := NewRegistry()
	seen := make(map[string]struct{}, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve extension root %q: %w", root, err)
		}
		if _, ok := seen[absRoot]; ok {
			continue
		}
		seen[absRoot] = struct{}{}

		info, err := os.Stat(absRoot)
		if err != nil {
			if os.IsNotExist(err) {
				logger("debug", "extension root does not exist", "root", absRoot)
				continue
			}
			return nil, fmt.Errorf("failed to stat extension root %s: %w", absRoot, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("extension root is not a directory: %s", absRoot)
		}

		err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() || d.Name() != manifestFilename {
				return nil
			}

			ext, err := loadExtension(filepath.Dir(path))
			if err != nil {
				logger("warn", "failed to load extension", "root", absRoot, "path", filepath.Dir(path), "error", err.Error())
				return nil
			}

			if err := registry.Add(ext); err != nil {
				existing, _ := registry.Get(ext.Name)
				logger("warn", "duplicate extension ignored (keeping first discovered)",
					"extension", ext.Name,
					"ignored_path", ext.Dir,
					"kept_path", existing.Dir,
				)
				return nil
			}

			logger("info", "loaded extension", "extension", ext.Name, "path", ext.Dir, "version", ext.Version)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan extension root %s: %w", absRoot, err)
		}
	}

	return registry, nil
}

// loadExtension reads and validates a single extension directory.
func loadExtension(dir string) (*Installed, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := validateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	modulePath := filepath.Join(dir, manifest.Module)
	if err := validateModule(modulePath, dir); err != nil {
		return nil, fmt.Errorf("module validation failed: %w", err)
	}

	cacheBust, err := Fingerprint(modulePath)
	if err != nil {
		return nil, err
	}

	pkg := manifest.Package
	if pkg == "" {
		pkg = filepath.Base(dir)
	}

	return &Installed{
		Name:        manifest.Name,
		Package:     pkg,
		Version:     manifest.Version,
		Description: manifest.Description,
		Dir:         dir,
		Route: Route{
			ExtensionName: manifest.Name,
			PackageName:   pkg,
			ModulePath:    modulePath,
			CacheBust:     cacheBust,
			Permissions:   manifest.Permissions,
		},
	}, nil
}

// validateModule checks the module file sits inside its extension directory
// and that the directory is not world-writable.
func validateModule(modulePath, dir string) error {
	resolvedModule, err := filepath.EvalSymlinks(modulePath)
	if err != nil {
		return fmt.Errorf("failed to resolve module symlink: %w", err)
	}
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve extension dir symlink: %w", err)
	}

	if !strings.HasPrefix(resolvedModule, resolvedDir+string(os.PathSeparator)) {
		return fmt.Errorf("module %s is not under extension directory %s", resolvedModule, resolvedDir)
	}

	info, err := os.Stat(resolvedModule)
	if err != nil {
		return fmt.Errorf("module not found: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("module is not a regular file: %s", resolvedModule)
	}

	dirInfo, err := os.Stat(resolvedDir)
	if err != nil {
		return fmt.Errorf("extension directory not found: %w", err)
	}
	if dirInfo.Mode().Perm()&0002 != 0 {
		return fmt.Errorf("extension directory is world-writable: %s", resolvedDir)
	}

	return nil
}
