// Package doctor checks a lore configuration and the extensions it points at.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/lore/internal/auth"
	"github.com/mattjoyce/lore/internal/config"
	"github.com/mattjoyce/lore/internal/extension"
	"github.com/mattjoyce/lore/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid      bool     `json:"valid"`
	Extensions []string `json:"extensions,omitempty"`
	Errors     []Issue  `json:"errors,omitempty"`
	Warnings   []Issue  `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration and discovers extensions the way the
// runtime would, collecting problems instead of stopping at the first.
type Doctor struct {
	cfg *config.Config

	checkFilesystem func(path string) error
}

// New creates a Doctor for a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, checkFilesystem: storage.CheckLocalFilesystem}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateConfig(r)
	d.validateStorage(r)
	d.validateExtensions(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.warnIsolation(r)
	d.warnSuspiciousTimeout(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateConfig(r *Result) {
	if err := d.cfg.Validate(); err != nil {
		d.addError(r, "config", "", err.Error())
	}
}

// validateStorage checks the database would open on a local filesystem.
func (d *Doctor) validateStorage(r *Result) {
	if d.cfg.DBPath == "" {
		return
	}
	err := d.checkFilesystem(d.cfg.DBPath)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNetworkFilesystem):
		d.addError(r, "storage", "db_path", err.Error())
	default:
		d.addWarning(r, "storage", "db_path", fmt.Sprintf("could not determine filesystem type: %v", err))
	}
}

// validateExtensions runs discovery and reports what it skipped.
func (d *Doctor) validateExtensions(r *Result) {
	for i, dir := range d.cfg.Extensions.Dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			d.addWarning(r, "extensions", fmt.Sprintf("extensions.dirs[%d]", i),
				fmt.Sprintf("directory %s does not exist", dir))
		}
	}

	registry, err := extension.Discover(d.cfg.Extensions.Dirs, func(level, msg string, args ...any) {
		if level != "warn" {
			return
		}
		d.addWarning(r, "extensions", fieldFromArgs(args), msg+formatArgs(args))
	})
	if err != nil {
		d.addError(r, "extensions", "extensions.dirs", err.Error())
		return
	}

	for _, ext := range registry.All() {
		r.Extensions = append(r.Extensions, ext.Name)
	}
	if len(r.Extensions) == 0 {
		d.addWarning(r, "extensions", "extensions.dirs", "no extensions discovered")
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.APIKey == "" && len(d.cfg.API.Tokens) == 0 {
		d.addWarning(r, "api", "api", "API enabled but no authentication configured")
	}
	if d.cfg.API.APIKey != "" && len(d.cfg.API.Tokens) > 0 {
		d.addWarning(r, "api", "api.api_key",
			"both api_key and tokens configured; api_key grants every scope")
	}
}

// validateTokenScopes checks every scope is one the API understands.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Tokens {
		if len(token.Scopes) == 0 {
			d.addWarning(r, "token_scopes", fmt.Sprintf("api.tokens[%d].scopes", i),
				"token has no scopes and can only reach unauthenticated routes")
		}
		for j, scope := range token.Scopes {
			if !auth.KnownScope(scope) {
				d.addError(r, "token_scopes", fmt.Sprintf("api.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (expected %s, %s or %s)", scope,
						auth.ScopeAll, auth.ScopeExtensionsRead, auth.ScopeToolsCall))
			}
		}
	}
}

func (d *Doctor) warnIsolation(r *Result) {
	if d.cfg.Extensions.Isolation == config.IsolationInProcess {
		d.addWarning(r, "isolation", "extensions.isolation",
			"inprocess workers share the host process; a crashing extension takes lore down with it")
	}
}

func (d *Doctor) warnSuspiciousTimeout(r *Result) {
	timeout := d.cfg.Extensions.CallTimeout
	if timeout > 0 && timeout < time.Second {
		d.addWarning(r, "timeout", "extensions.call_timeout",
			fmt.Sprintf("call_timeout %s is very short (< 1s); module loads count against it", timeout))
	}
}

// fieldFromArgs picks the most specific location out of discovery log args.
func fieldFromArgs(args []any) string {
	for _, key := range []string{"ignored_path", "path", "root"} {
		for i := 0; i+1 < len(args); i += 2 {
			if k, ok := args[i].(string); ok && k == key {
				return fmt.Sprint(args[i+1])
			}
		}
	}
	return ""
}

func formatArgs(args []any) string {
	var b strings.Builder
	for i := 0; i+1 < len(args); i += 2 {
		k, _ := args[i].(string)
		if k != "error" && k != "extension" {
			continue
		}
		fmt.Fprintf(&b, " (%s: %v)", k, args[i+1])
	}
	return b.String()
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		fmt.Fprintf(&b, "Configuration valid. %d extension(s) discovered.\n", len(r.Extensions))
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
