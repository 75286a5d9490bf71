package sandbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/mattjoyce/lore/internal/log"
	"github.com/mattjoyce/lore/internal/protocol"
	"github.com/mattjoyce/lore/internal/worker"
)

// InProcessSpawner runs each worker runtime on its own goroutine inside the
// host process, wired up with in-memory pipes. A handler panic ends that
// worker with an error instead of taking the host down; anything that
// escapes (os.Exit, runaway memory) still affects the host.
type InProcessSpawner struct {
	Loader worker.Loader
	Logger *slog.Logger
}

// Spawn implements Spawner.
func (s *InProcessSpawner) Spawn(spec worker.Spec) (Worker, error) {
	logger := s.Logger
	if logger == nil {
		logger = log.WithComponent("worker")
	}

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	w := &inProcessWorker{
		reqW:   reqW,
		enc:    protocol.NewEncoder(reqW),
		events: make(chan Event, 16),
		cancel: cancel,
		logger: logger.With("extension", spec.ExtensionName),
	}

	rt := worker.New(spec, s.Loader, logger)
	served := make(chan error, 1)
	go func() {
		err := rt.Serve(ctx, reqR, respW)
		// Unblock any Send still waiting on the request pipe.
		_ = reqR.CloseWithError(io.ErrClosedPipe)
		_ = respW.Close()
		served <- err
	}()
	go w.run(respR, served)

	return w, nil
}

type inProcessWorker struct {
	reqW   *io.PipeWriter
	enc    *protocol.Encoder
	events chan Event
	cancel context.CancelFunc
	logger *slog.Logger

	terminateOnce sync.Once
}

func (w *inProcessWorker) Send(msg protocol.Message) error {
	return w.enc.Encode(msg)
}

func (w *inProcessWorker) Events() <-chan Event {
	return w.events
}

func (w *inProcessWorker) Terminate() error {
	w.terminateOnce.Do(func() {
		w.cancel()
		_ = w.reqW.Close()
	})
	return nil
}

func (w *inProcessWorker) run(resp io.Reader, served <-chan error) {
	dec := protocol.NewDecoder(resp)
	for {
		msg, err := dec.Decode()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				continue
			}
			if !errors.Is(err, io.EOF) {
				w.events <- Event{Kind: EventError, Err: err}
			}
			break
		}
		w.events <- Event{Kind: EventMessage, Message: msg}
	}

	err := <-served
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		w.logger.Debug("worker runtime stopped", "error", err)
	}
	w.events <- Event{Kind: EventExit, Err: err}
	close(w.events)
}
