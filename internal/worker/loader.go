package worker

import (
	"context"
	"fmt"
	"plugin"
)

// Symbols looks up exported symbols of a loaded module.
type Symbols interface {
	Lookup(name string) (any, error)
}

// Loader opens the module at modulePath. cacheBust identifies the build of
// the module the caller expects; loaders that cache by path may ignore it.
type Loader interface {
	Load(ctx context.Context, modulePath, cacheBust string) (Symbols, error)
}

// PluginLoader opens Go plugins built with -buildmode=plugin.
//
// The Go runtime never unloads a plugin, so a rebuilt module is only picked
// up by a fresh process. Process-isolated workers get that for free.
type PluginLoader struct{}

// Load implements Loader.
func (PluginLoader) Load(_ context.Context, modulePath, _ string) (Symbols, error) {
	p, err := plugin.Open(modulePath)
	if err != nil {
		return nil, err
	}
	return pluginSymbols{p: p}, nil
}

type pluginSymbols struct {
	p *plugin.Plugin
}

func (s pluginSymbols) Lookup(name string) (any, error) {
	sym, err := s.p.Lookup(name)
	if err != nil {
		return nil, err
	}
	return sym, nil
}

// SymbolTable is an in-memory module: symbol name -> value.
type SymbolTable map[string]any

// Lookup implements Symbols.
func (t SymbolTable) Lookup(name string) (any, error) {
	v, ok := t[name]
	if !ok {
		return nil, fmt.Errorf("symbol %s not found", name)
	}
	return v, nil
}

// StaticLoader serves modules compiled into the host binary, keyed by module
// path. A module whose value is an error fails to load with that error.
type StaticLoader map[string]any

// Load implements Loader.
func (l StaticLoader) Load(_ context.Context, modulePath, _ string) (Symbols, error) {
	switch m := l[modulePath].(type) {
	case nil:
		return nil, fmt.Errorf("module %s not found", modulePath)
	case error:
		return nil, m
	case Symbols:
		return m, nil
	default:
		return nil, fmt.Errorf("module %s has unsupported type %T", modulePath, m)
	}
}
