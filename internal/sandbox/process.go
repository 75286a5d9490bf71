package sandbox

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/lore/internal/log"
	"github.com/mattjoyce/lore/internal/protocol"
	"github.com/mattjoyce/lore/internal/worker"
)

const (
	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second

	// maxStderrLine caps a single forwarded stderr line.
	maxStderrLine = 64 * 1024
)

// WorkerArgs are the arguments the host binary understands as "run as a
// worker for this module".
func WorkerArgs(spec worker.Spec) []string {
	return []string{
		"ext", "worker",
		"--module", spec.ModulePath,
		"--cache-bust", spec.CacheBust,
		"--extension", spec.ExtensionName,
	}
}

// ProcessSpawner runs each worker as a child process speaking the protocol
// over stdin/stdout. The child's stderr is forwarded to Logger.
type ProcessSpawner struct {
	// Path is the worker executable. Empty means the running binary.
	Path string
	// Args builds the argument list. Nil means WorkerArgs.
	Args func(spec worker.Spec) []string
	// Env is appended to the host environment.
	Env []string
	// GracePeriod between SIGTERM and SIGKILL. Zero means 5s.
	GracePeriod time.Duration
	Logger      *slog.Logger
}

// Spawn implements Spawner.
func (s *ProcessSpawner) Spawn(spec worker.Spec) (Worker, error) {
	path := s.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve worker executable: %w", err)
		}
		path = exe
	}
	argsFn := s.Args
	if argsFn == nil {
		argsFn = WorkerArgs
	}
	grace := s.GracePeriod
	if grace <= 0 {
		grace = terminationGracePeriod
	}
	logger := s.Logger
	if logger == nil {
		logger = log.WithComponent("sandbox")
	}
	logger = logger.With("extension", spec.ExtensionName)

	// Not CommandContext: the worker outlives the call that spawned it.
	cmd := exec.Command(path, argsFn(spec)...)
	cmd.Env = append(os.Environ(), s.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}
	logger.Debug("spawned worker process", "pid", cmd.Process.Pid, "module", spec.ModulePath)

	w := &processWorker{
		cmd:    cmd,
		stdin:  stdin,
		enc:    protocol.NewEncoder(stdin),
		events: make(chan Event, 16),
		exited: make(chan struct{}),
		grace:  grace,
		logger: logger,
	}
	go w.run(stdout, stderr)
	return w, nil
}

type processWorker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	enc    *protocol.Encoder
	events chan Event
	exited chan struct{}
	grace  time.Duration
	logger *slog.Logger

	terminateOnce sync.Once
}

func (w *processWorker) Send(msg protocol.Message) error {
	return w.enc.Encode(msg)
}

func (w *processWorker) Events() <-chan Event {
	return w.events
}

// Terminate closes stdin and sends SIGTERM, escalating to SIGKILL after the
// grace period.
func (w *processWorker) Terminate() error {
	var err error
	w.terminateOnce.Do(func() {
		_ = w.stdin.Close()
		if sigErr := w.cmd.Process.Signal(syscall.SIGTERM); sigErr != nil && !errors.Is(sigErr, os.ErrProcessDone) {
			err = fmt.Errorf("send SIGTERM: %w", sigErr)
		}

		go func() {
			grace := time.NewTimer(w.grace)
			defer grace.Stop()

			select {
			case <-w.exited:
			case <-grace.C:
				w.logger.Warn("worker did not exit after SIGTERM, sending SIGKILL")
				if killErr := w.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
					w.logger.Error("failed to send SIGKILL", "error", killErr)
				}
			}
		}()
	})
	return err
}

func (w *processWorker) run(stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.forwardStderr(stderr)
	}()

	dec := protocol.NewDecoder(stdout)
	for {
		msg, err := dec.Decode()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				w.logger.Debug("ignoring malformed worker output", "error", err)
				continue
			}
			if !errors.Is(err, io.EOF) {
				w.events <- Event{Kind: EventError, Err: err}
			}
			break
		}
		w.events <- Event{Kind: EventMessage, Message: msg}
	}
	_, _ = io.Copy(io.Discard, stdout)

	// Wait must follow the last read from the pipes.
	wg.Wait()
	err := w.cmd.Wait()
	close(w.exited)

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		w.logger.Debug("worker process exited", "exit_code", exitErr.ExitCode())
	}
	w.events <- Event{Kind: EventExit, Err: err}
	close(w.events)
}

func (w *processWorker) forwardStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxStderrLine)
	for sc.Scan() {
		w.logger.Debug("worker stderr", "line", sc.Text())
	}
	// Drain whatever is left after an over-long line so the child never blocks.
	_, _ = io.Copy(io.Discard, r)
}
