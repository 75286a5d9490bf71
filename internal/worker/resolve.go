package worker

import (
	"context"
	"fmt"
	"reflect"

	"github.com/mattjoyce/lore/internal/extension"
)

const (
	// NamedExport is the preferred symbol an extension module exports.
	NamedExport = "LoreExtension"
	// DefaultExport is the fallback symbol: an extension value or a factory.
	DefaultExport = "Default"
)

// resolveStrategy reports matched=false when the module does not use its
// export shape, so the next strategy gets a turn.
type resolveStrategy struct {
	name    string
	resolve func(ctx context.Context, syms Symbols) (ext *extension.Extension, matched bool, err error)
}

// strategies are tried in order; the order is part of the module contract.
var strategies = []resolveStrategy{
	{name: "named export", resolve: resolveNamed},
	{name: "default export", resolve: resolveDefaultObject},
	{name: "default factory", resolve: resolveDefaultFactory},
}

// Resolve loads the module at modulePath and extracts its extension.
func Resolve(ctx context.Context, loader Loader, modulePath, cacheBust string) (*extension.Extension, error) {
	syms, err := loader.Load(ctx, modulePath, cacheBust)
	if err != nil {
		return nil, fmt.Errorf("failed to load extension module %s: %w", modulePath, err)
	}

	for _, s := range strategies {
		ext, matched, err := s.resolve(ctx, syms)
		if err != nil {
			return nil, fmt.Errorf("%s of %s: %w", s.name, modulePath, err)
		}
		if !matched {
			continue
		}
		if ext == nil {
			return nil, fmt.Errorf("%s of %s is nil", s.name, modulePath)
		}
		return ext, nil
	}

	return nil, fmt.Errorf("extension module %s exports neither %s nor a usable %s", modulePath, NamedExport, DefaultExport)
}

func resolveNamed(_ context.Context, syms Symbols) (*extension.Extension, bool, error) {
	sym, err := syms.Lookup(NamedExport)
	if err != nil {
		return nil, false, nil
	}
	ext, ok := asExtension(sym)
	return ext, ok, nil
}

func resolveDefaultObject(_ context.Context, syms Symbols) (*extension.Extension, bool, error) {
	sym, err := syms.Lookup(DefaultExport)
	if err != nil {
		return nil, false, nil
	}
	ext, ok := asExtension(sym)
	return ext, ok, nil
}

func resolveDefaultFactory(ctx context.Context, syms Symbols) (ext *extension.Extension, matched bool, err error) {
	sym, lookupErr := syms.Lookup(DefaultExport)
	if lookupErr != nil {
		return nil, false, nil
	}

	// A plugin variable holding a func is looked up as a pointer to it.
	if rv := reflect.ValueOf(sym); rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Kind() == reflect.Func {
		sym = rv.Elem().Interface()
	}

	defer func() {
		if p := recover(); p != nil {
			ext, matched, err = nil, true, fmt.Errorf("factory panicked: %v", p)
		}
	}()

	switch factory := sym.(type) {
	case func() *extension.Extension:
		return factory(), true, nil
	case func() (*extension.Extension, error):
		built, ferr := factory()
		return built, true, ferr
	case func(context.Context) (*extension.Extension, error):
		built, ferr := factory(ctx)
		return built, true, ferr
	default:
		return nil, false, nil
	}
}

func asExtension(sym any) (*extension.Extension, bool) {
	switch v := sym.(type) {
	case *extension.Extension:
		return v, true
	case **extension.Extension:
		if v == nil {
			return nil, true
		}
		return *v, true
	case extension.Extension:
		return &v, true
	default:
		return nil, false
	}
}

// buildTable maps tool names to handlers wrapped in the extension's
// middleware, first entry outermost. Entries without a name or a handler
// are skipped.
func buildTable(ext *extension.Extension) map[string]extension.ToolHandler {
	table := make(map[string]extension.ToolHandler, len(ext.Tools))
	for _, tool := range ext.Tools {
		if tool.Name == "" || tool.Handler == nil {
			continue
		}
		h := tool.Handler
		for i := len(ext.Middleware) - 1; i >= 0; i-- {
			if mw := ext.Middleware[i]; mw != nil {
				h = mw(h)
			}
		}
		table[tool.Name] = h
	}
	return table
}
