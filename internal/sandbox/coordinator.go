package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/lore/internal/extension"
	"github.com/mattjoyce/lore/internal/log"
	"github.com/mattjoyce/lore/internal/protocol"
	"github.com/mattjoyce/lore/internal/worker"
)

// DefaultTimeout bounds a single tool call.
const DefaultTimeout = 30 * time.Second

const toolNotFoundPrefix = "Tool not found: "

// CallRecord describes one settled call.
type CallRecord struct {
	ID        string
	Route     extension.Route
	Tool      string
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

// Observer is notified after every call settles.
type Observer interface {
	CallSettled(ctx context.Context, rec CallRecord)
}

// WorkerStatus is a point-in-time view of one pooled module.
type WorkerStatus struct {
	ModulePath  string `json:"module_path"`
	Extension   string `json:"extension"`
	Live        bool   `json:"live"`
	Pending     int    `json:"pending"`
	Unavailable string `json:"unavailable,omitempty"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver registers an Observer. Observers run in registration order.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithIDGenerator replaces the correlation id generator.
func WithIDGenerator(fn func() string) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// Coordinator owns the worker pool and routes tool calls to it.
type Coordinator struct {
	spawner   Spawner
	timeout   time.Duration
	logger    *slog.Logger
	observers []Observer
	newID     func() string

	mu   sync.Mutex
	pool map[string]*workerState // keyed by module path
}

type workerState struct {
	route             extension.Route
	worker            Worker
	pending           map[string]*pendingCall
	unavailableReason string // never cleared once set
	terminating       bool
}

type pendingCall struct {
	toolName string
	timer    *time.Timer
	done     chan outcome // buffered; written exactly once
}

type outcome struct {
	result any
	err    error
}

// New creates a Coordinator that starts workers with spawner.
func New(spawner Spawner, opts ...Option) *Coordinator {
	c := &Coordinator{
		spawner: spawner,
		timeout: DefaultTimeout,
		logger:  log.WithComponent("sandbox"),
		newID:   uuid.NewString,
		pool:    make(map[string]*workerState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the per-call timeout.
func (c *Coordinator) Timeout() time.Duration {
	return c.timeout
}

// CallTool runs toolName from the extension at route and returns its result.
// Cancelling ctx abandons the call without affecting the worker.
func (c *Coordinator) CallTool(ctx context.Context, route extension.Route, toolName string, args map[string]any, tc extension.ToolContext) (any, error) {
	id := c.newID()
	started := time.Now()

	result, err := c.call(ctx, id, route, toolName, args, tc)

	if len(c.observers) > 0 {
		rec := CallRecord{
			ID:        id,
			Route:     route,
			Tool:      toolName,
			StartedAt: started,
			Duration:  time.Since(started),
			Err:       err,
		}
		for _, o := range c.observers {
			o.CallSettled(context.WithoutCancel(ctx), rec)
		}
	}
	return result, err
}

func (c *Coordinator) call(ctx context.Context, id string, route extension.Route, toolName string, args map[string]any, tc extension.ToolContext) (any, error) {
	c.mu.Lock()
	st := c.stateFor(route)
	if st.unavailableReason != "" {
		c.mu.Unlock()
		return nil, newCallError(KindUnavailable, st, toolName, st.unavailableReason, nil)
	}

	w, err := c.ensureWorker(st, toolName)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	pc := &pendingCall{toolName: toolName, done: make(chan outcome, 1)}
	pc.timer = time.AfterFunc(c.timeout, func() { c.handleTimeout(st, w, id, toolName) })
	st.pending[id] = pc
	c.mu.Unlock()

	req := &protocol.ToolCallRequest{
		ID:       id,
		ToolName: toolName,
		Args:     args,
		Context:  sanitizeContext(tc),
	}
	if err := w.Send(req); err != nil {
		c.mu.Lock()
		if st.worker == w {
			c.logger.Warn("failed to send call to worker", "extension", st.route.ExtensionName, "error", err)
			c.failWorker(st, KindWorkerError, "Worker error in "+st.route.ExtensionName, err)
		}
		c.mu.Unlock()
	}

	select {
	case out := <-pc.done:
		return out.result, out.err
	case <-ctx.Done():
		c.mu.Lock()
		if cur, ok := st.pending[id]; ok && cur == pc {
			delete(st.pending, id)
			pc.timer.Stop()
		}
		c.mu.Unlock()
		select {
		case out := <-pc.done:
			return out.result, out.err
		default:
			return nil, ctx.Err()
		}
	}
}

// sanitizeContext keeps only the fields that may cross into a worker.
func sanitizeContext(tc extension.ToolContext) protocol.ToolContext {
	return protocol.ToolContext{
		Mode:    tc.Mode,
		DataDir: tc.DataDir,
		DBPath:  tc.DBPath,
	}
}

// stateFor must be called with c.mu held.
func (c *Coordinator) stateFor(route extension.Route) *workerState {
	st, ok := c.pool[route.ModulePath]
	if !ok {
		st = &workerState{
			route:   route,
			pending: make(map[string]*pendingCall),
		}
		c.pool[route.ModulePath] = st
	}
	return st
}

// ensureWorker must be called with c.mu held.
func (c *Coordinator) ensureWorker(st *workerState, toolName string) (Worker, error) {
	if st.worker != nil && !st.terminating {
		return st.worker, nil
	}

	w, err := c.spawner.Spawn(worker.Spec{
		ModulePath:    st.route.ModulePath,
		CacheBust:     st.route.CacheBust,
		ExtensionName: st.route.ExtensionName,
	})
	if err != nil {
		c.logger.Error("failed to start worker", "extension", st.route.ExtensionName, "error", err)
		msg := fmt.Sprintf("Failed to start worker for %s: %v", st.route.ExtensionName, err)
		return nil, newCallError(KindSpawn, st, toolName, msg, err)
	}

	st.worker = w
	st.terminating = false
	c.logger.Debug("worker started", "extension", st.route.ExtensionName, "module", st.route.ModulePath)

	// Attach to the event stream before any Send can fail and terminate w.
	go c.watch(st, w, w.Events())
	return w, nil
}

// watch dispatches events from one worker until it exits.
func (c *Coordinator) watch(st *workerState, w Worker, events <-chan Event) {
	for ev := range events {
		switch ev.Kind {
		case EventMessage:
			c.handleMessage(st, ev.Message)
		case EventError:
			c.handleWorkerError(st, w, ev.Err)
		case EventExit:
			c.handleExit(st, w, ev.Err)
		}
	}
}

func (c *Coordinator) handleMessage(st *workerState, msg protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m := msg.(type) {
	case *protocol.ToolCallResult:
		pc, ok := c.takePending(st, m.ID)
		if !ok {
			return
		}
		pc.done <- outcome{result: m.Result}

	case *protocol.ToolCallError:
		pc, ok := st.pending[m.ID]
		if !ok {
			return
		}
		if reason, isLoad := protocol.ParseLoadFailure(m.Error); isLoad {
			if st.unavailableReason == "" {
				st.unavailableReason = reason
				c.logger.Error("extension unavailable", "extension", st.route.ExtensionName, "module", st.route.ModulePath, "reason", reason)
			}
			c.failWorker(st, KindUnavailable, reason, nil)
			return
		}
		c.takePending(st, m.ID)
		kind := KindHandler
		if strings.HasPrefix(m.Error, toolNotFoundPrefix) {
			kind = KindToolNotFound
		}
		pc.done <- outcome{err: newCallError(kind, st, pc.toolName, m.Error, nil)}

	case *protocol.ToolCallRequest:
		// Workers never call into the host.
	}
}

func (c *Coordinator) handleWorkerError(st *workerState, w Worker, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st.worker != w {
		return
	}
	c.logger.Warn("worker error", "extension", st.route.ExtensionName, "error", err)
	c.failWorker(st, KindWorkerError, "Worker error in "+st.route.ExtensionName, err)
}

func (c *Coordinator) handleExit(st *workerState, w Worker, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A worker we discarded or are shutting down is expected to exit.
	if st.worker != w || st.terminating {
		return
	}
	c.logger.Warn("worker exited unexpectedly", "extension", st.route.ExtensionName, "error", err)
	c.failWorker(st, KindWorkerExited, "Worker exited for "+st.route.ExtensionName, err)
}

func (c *Coordinator) handleTimeout(st *workerState, w Worker, id, toolName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := st.pending[id]; !ok || st.worker != w {
		return
	}
	msg := fmt.Sprintf("Tool %s timed out after %dms", toolName, c.timeout.Milliseconds())
	c.logger.Warn("tool call timed out, discarding worker", "extension", st.route.ExtensionName, "tool", toolName, "timeout", c.timeout)
	c.failWorker(st, KindTimeout, msg, nil)
}

// takePending removes and returns a pending call. Must be called with c.mu held.
func (c *Coordinator) takePending(st *workerState, id string) (*pendingCall, bool) {
	pc, ok := st.pending[id]
	if !ok {
		return nil, false
	}
	delete(st.pending, id)
	pc.timer.Stop()
	return pc, true
}

// failWorker rejects every pending call on st, then terminates and discards
// its worker. Must be called with c.mu held.
func (c *Coordinator) failWorker(st *workerState, kind Kind, msg string, cause error) {
	for id, pc := range st.pending {
		delete(st.pending, id)
		pc.timer.Stop()
		pc.done <- outcome{err: newCallError(kind, st, pc.toolName, msg, cause)}
	}

	w := st.worker
	st.worker = nil
	if w == nil || st.terminating {
		return
	}
	st.terminating = true
	if err := w.Terminate(); err != nil {
		c.logger.Warn("failed to terminate worker", "extension", st.route.ExtensionName, "error", err)
	}
}

// Dispose terminates every worker and empties the pool. Pending calls fail
// with a KindDisposed error. The Coordinator stays usable; later calls spawn
// fresh workers.
func (c *Coordinator) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, st := range c.pool {
		c.failWorker(st, KindDisposed, "Worker terminated for "+st.route.ExtensionName, nil)
		delete(c.pool, key)
	}
}

// Status reports every module the Coordinator has seen, sorted by path.
func (c *Coordinator) Status() []WorkerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]WorkerStatus, 0, len(c.pool))
	for path, st := range c.pool {
		out = append(out, WorkerStatus{
			ModulePath:  path,
			Extension:   st.route.ExtensionName,
			Live:        st.worker != nil && !st.terminating,
			Pending:     len(st.pending),
			Unavailable: st.unavailableReason,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModulePath < out[j].ModulePath })
	return out
}

func newCallError(kind Kind, st *workerState, toolName, msg string, cause error) *CallError {
	return &CallError{
		Kind:      kind,
		Extension: st.route.ExtensionName,
		Tool:      toolName,
		Msg:       msg,
		Err:       cause,
	}
}
