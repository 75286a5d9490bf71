// Package worker is the code that runs inside an isolated worker. It resolves
// exactly one extension module, builds its tool table and answers call
// messages until its input stream closes.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/mattjoyce/lore/internal/extension"
	"github.com/mattjoyce/lore/internal/protocol"
)

// Spec is what the host tells a worker at spawn time.
type Spec struct {
	ModulePath    string
	CacheBust     string
	ExtensionName string
}

// Runtime services tool calls for a single extension module.
type Runtime struct {
	spec   Spec
	loader Loader
	logger *slog.Logger

	resolveOnce sync.Once
	tools       map[string]extension.ToolHandler
	loadErr     string // sentinel-prefixed, set once on failed resolution
}

// New creates a Runtime. Nothing is loaded until Serve or a call needs it.
func New(spec Spec, loader Loader, logger *slog.Logger) *Runtime {
	return &Runtime{
		spec:   spec,
		loader: loader,
		logger: logger.With("extension", spec.ExtensionName, "module", spec.ModulePath),
	}
}

// ensureResolved resolves the module on first use. Concurrent callers block
// until the first resolution finishes.
func (r *Runtime) ensureResolved(ctx context.Context) {
	r.resolveOnce.Do(func() {
		ext, err := r.resolve(ctx)
		if err != nil {
			r.loadErr = protocol.LoadFailure(err.Error())
			r.logger.Error("extension failed to load", "error", err)
			return
		}
		r.tools = buildTable(ext)
		r.logger.Debug("extension loaded", "tools", len(r.tools))
	})
}

func (r *Runtime) resolve(ctx context.Context) (ext *extension.Extension, err error) {
	defer func() {
		if p := recover(); p != nil {
			ext, err = nil, fmt.Errorf("extension module %s panicked while loading: %v", r.spec.ModulePath, p)
		}
	}()
	return Resolve(ctx, r.loader, r.spec.ModulePath, r.spec.CacheBust)
}

// Serve reads call messages from in and writes responses to out. Resolution
// starts immediately so load failures surface before the first call.
//
// Serve returns nil when in reaches EOF, ctx.Err() when ctx is cancelled,
// and an error if a handler panics. A panic is a worker crash, not a
// per-call fault.
func (r *Runtime) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	enc := protocol.NewEncoder(out)
	dec := protocol.NewDecoder(in)

	go r.ensureResolved(ctx)

	calls := make(chan *protocol.ToolCallRequest)
	readErr := make(chan error, 1)
	fatal := make(chan error, 1)

	go func() {
		for {
			msg, err := dec.Decode()
			if err != nil {
				if errors.Is(err, protocol.ErrMalformed) {
					r.logger.Debug("ignoring malformed message", "error", err)
					continue
				}
				readErr <- err
				return
			}
			call, ok := msg.(*protocol.ToolCallRequest)
			if !ok {
				continue
			}
			select {
			case calls <- call:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-fatal:
			return err
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case call := <-calls:
			go r.handleCall(ctx, enc, call, fatal)
		}
	}
}

func (r *Runtime) handleCall(ctx context.Context, enc *protocol.Encoder, call *protocol.ToolCallRequest, fatal chan<- error) {
	defer func() {
		if p := recover(); p != nil {
			select {
			case fatal <- fmt.Errorf("tool %s panicked: %v", call.ToolName, p):
			default:
			}
		}
	}()

	r.ensureResolved(ctx)
	if r.loadErr != "" {
		r.reply(enc, &protocol.ToolCallError{ID: call.ID, Error: r.loadErr})
		return
	}

	handler, ok := r.tools[call.ToolName]
	if !ok {
		r.reply(enc, &protocol.ToolCallError{ID: call.ID, Error: "Tool not found: " + call.ToolName})
		return
	}

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	tc := extension.ToolContext{
		Mode:    call.Context.Mode,
		DataDir: call.Context.DataDir,
		DBPath:  call.Context.DBPath,
		Logger:  r.logger.With("tool", call.ToolName, "call_id", call.ID),
	}

	result, err := handler(ctx, args, tc)
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = fmt.Sprintf("Tool %s failed", call.ToolName)
		}
		r.reply(enc, &protocol.ToolCallError{ID: call.ID, Error: msg})
		return
	}

	err = enc.Encode(&protocol.ToolCallResult{ID: call.ID, Result: result})
	if errors.Is(err, protocol.ErrUnencodable) {
		r.reply(enc, &protocol.ToolCallError{
			ID:    call.ID,
			Error: fmt.Sprintf("Tool %s returned an unserializable result: %v", call.ToolName, err),
		})
		return
	}
	if err != nil {
		r.logger.Warn("failed to send result", "tool", call.ToolName, "error", err)
	}
}

func (r *Runtime) reply(enc *protocol.Encoder, msg *protocol.ToolCallError) {
	if err := enc.Encode(msg); err != nil {
		r.logger.Warn("failed to send error", "error", err)
	}
}
