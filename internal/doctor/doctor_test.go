package doctor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/lore/internal/config"
	"github.com/mattjoyce/lore/internal/storage"
)

func writeExtension(t *testing.T, root, name string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := fmt.Sprintf("name: %s\nmodule: %s.so\n", name, name)
	if err := os.WriteFile(filepath.Join(dir, "extension.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".so"), []byte("module"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	extDir := filepath.Join(root, "extensions")
	writeExtension(t, extDir, "notes")

	cfg := config.Defaults()
	cfg.DataDir = filepath.Join(root, "data")
	cfg.DBPath = filepath.Join(cfg.DataDir, "lore.db")
	cfg.Extensions.Dirs = []string{extDir}
	return cfg
}

func newDoctor(cfg *config.Config) *Doctor {
	d := New(cfg)
	d.checkFilesystem = func(string) error { return nil }
	return d
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := newDoctor(validConfig(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
	if len(r.Extensions) != 1 || r.Extensions[0] != "notes" {
		t.Fatalf("expected [notes], got %v", r.Extensions)
	}
}

func TestValidate_ConfigError(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Extensions.Isolation = "container"
	r := newDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "config", "extensions.isolation")
}

func TestValidate_NetworkFilesystem(t *testing.T) {
	t.Parallel()
	d := New(validConfig(t))
	d.checkFilesystem = func(path string) error {
		return fmt.Errorf("%w: %s is on nfs", storage.ErrNetworkFilesystem, path)
	}
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "storage", "nfs")
}

func TestValidate_FilesystemUnknown(t *testing.T) {
	t.Parallel()
	d := New(validConfig(t))
	d.checkFilesystem = func(string) error { return errors.New("statfs: permission denied") }
	r := d.Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "storage", "permission denied")
}

func TestValidate_MissingExtensionDir(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Extensions.Dirs = append(cfg.Extensions.Dirs, filepath.Join(t.TempDir(), "absent"))
	r := newDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "extensions", "does not exist")
}

func TestValidate_NoExtensions(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Extensions.Dirs = []string{t.TempDir()}
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "extensions", "no extensions discovered")
}

func TestValidate_BrokenManifestIsWarning(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	bad := filepath.Join(cfg.Extensions.Dirs[0], "bad")
	if err := os.MkdirAll(bad, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bad, "extension.yaml"), []byte("module: bad.so\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := newDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "extensions", "name is required")
}

func TestValidate_DuplicateExtension(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	other := t.TempDir()
	writeExtension(t, other, "notes")
	cfg.Extensions.Dirs = append(cfg.Extensions.Dirs, other)
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "extensions", "duplicate")
}

func TestValidate_APIWithoutAuth(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Enabled = true
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "api", "no authentication")
}

func TestValidate_BothAPIKeyAndTokens(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Enabled = true
	cfg.API.APIKey = "old-key"
	cfg.API.Tokens = []config.APIToken{{Token: "new-key", Scopes: []string{"tools:call"}}}
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "api", "both")
}

func TestValidate_TokenScopes(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Enabled = true
	cfg.API.Tokens = []config.APIToken{
		{Token: "reader", Scopes: []string{"extensions:ro"}},
		{Token: "typo", Scopes: []string{"tools:rw"}},
		{Token: "empty"},
	}
	r := newDoctor(cfg).Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "token_scopes", `"tools:rw"`)
	assertHasWarning(t, r, "token_scopes", "no scopes")
	if len(r.Errors) != 1 {
		t.Fatalf("expected exactly one error, got: %v", r.Errors)
	}
}

func TestValidate_InProcessIsolation(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Extensions.Isolation = config.IsolationInProcess
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "isolation", "share the host process")
}

func TestValidate_ShortTimeout(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Extensions.CallTimeout = 200 * time.Millisecond
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "timeout", "very short")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	r := &Result{Valid: true, Extensions: []string{"notes"}}
	out := FormatHuman(r)
	if !strings.Contains(out, "valid") || !strings.Contains(out, "1 extension(s)") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
		Warnings: []Issue{{Category: "test", Message: "odd"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR [test] x.y: broken") || !strings.Contains(out, "WARN  [test] odd") {
		t.Fatalf("expected error and warning in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
