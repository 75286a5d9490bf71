// Package extension defines the contract extension modules are written
// against and the Route that identifies a loadable module.
//
// An extension module is a Go plugin (built with -buildmode=plugin) that
// exports either a LoreExtension variable or a Default symbol. The sandbox
// loads it inside a worker; the host only ever sees Routes.
package extension

import (
	"context"
	"log/slog"
)

// ToolHandler runs one tool call. args is the decoded JSON argument object.
// The returned value must be JSON-serializable.
type ToolHandler func(ctx context.Context, args map[string]any, tc ToolContext) (any, error)

// Tool is a named handler contributed by an extension.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     ToolHandler
}

// HookFunc reacts to a host lifecycle event. Hooks are dispatched by the
// registry in the host process, never through a sandboxed worker.
type HookFunc func(ctx context.Context, payload map[string]any) error

// Command is a CLI subcommand contributed by an extension. Like hooks,
// commands belong to the registry; the sandbox only serves tools.
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
}

// Middleware wraps every tool handler of the extension that declares it.
// A worker applies it when building its tool table.
type Middleware func(next ToolHandler) ToolHandler

// Extension is the value an extension module exports. It is the full
// authoring shape; a sandboxed worker reads Tools and Middleware and
// leaves the rest to the registry.
type Extension struct {
	Name        string
	Version     string
	Tools       []Tool
	Hooks       map[string]HookFunc
	Commands    []Command
	Middleware  []Middleware
	Permissions []string
}

// QueryFunc searches the knowledge base on behalf of a tool.
type QueryFunc func(ctx context.Context, question string, opts map[string]any) (any, error)

// AskFunc sends a prompt to the configured LLM.
type AskFunc func(ctx context.Context, prompt string) (string, error)

// ProposeFunc submits a change for user review.
type ProposeFunc func(ctx context.Context, change map[string]any) error

// ToolContext is what a caller hands to a tool. Only Mode, DataDir and
// DBPath cross into a sandboxed worker; the callbacks and the logger stay
// with the host.
type ToolContext struct {
	Mode    string
	DataDir string
	DBPath  string

	Logger  *slog.Logger
	Query   QueryFunc
	Ask     AskFunc
	Propose ProposeFunc
}

// Route identifies a loadable extension module. ModulePath is the key the
// sandbox pools workers by.
type Route struct {
	ExtensionName string   `json:"extension_name"`
	PackageName   string   `json:"package_name"`
	ModulePath    string   `json:"module_path"`
	CacheBust     string   `json:"cache_bust,omitempty"`
	Permissions   []string `json:"permissions,omitempty"`
}
