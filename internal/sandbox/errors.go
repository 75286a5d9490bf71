package sandbox

import "errors"

// Kind classifies why a tool call failed.
type Kind int

const (
	KindHandler Kind = iota + 1
	KindToolNotFound
	KindWorkerError
	KindWorkerExited
	KindTimeout
	KindUnavailable
	KindDisposed
	KindSpawn
)

var (
	ErrHandler      = errors.New("tool handler failed")
	ErrToolNotFound = errors.New("tool not found")
	ErrWorkerError  = errors.New("worker error")
	ErrWorkerExited = errors.New("worker exited")
	ErrTimeout      = errors.New("tool call timed out")
	ErrUnavailable  = errors.New("extension unavailable")
	ErrDisposed     = errors.New("worker terminated")
	ErrSpawn        = errors.New("worker failed to start")
)

var kindErrors = map[Kind]error{
	KindHandler:      ErrHandler,
	KindToolNotFound: ErrToolNotFound,
	KindWorkerError:  ErrWorkerError,
	KindWorkerExited: ErrWorkerExited,
	KindTimeout:      ErrTimeout,
	KindUnavailable:  ErrUnavailable,
	KindDisposed:     ErrDisposed,
	KindSpawn:        ErrSpawn,
}

func (k Kind) String() string {
	switch k {
	case KindHandler:
		return "handler"
	case KindToolNotFound:
		return "tool_not_found"
	case KindWorkerError:
		return "worker_error"
	case KindWorkerExited:
		return "worker_exited"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	case KindDisposed:
		return "disposed"
	case KindSpawn:
		return "spawn"
	default:
		return "unknown"
	}
}

// CallError is the error every failed CallTool returns. Error() is the
// caller-facing message; errors.Is matches the Err* value for its Kind.
type CallError struct {
	Kind      Kind
	Extension string
	Tool      string
	Msg       string
	Err       error // underlying cause, if any
}

func (e *CallError) Error() string { return e.Msg }

func (e *CallError) Unwrap() error { return e.Err }

func (e *CallError) Is(target error) bool {
	return kindErrors[e.Kind] == target
}

// KindOf returns the Kind of err, or 0 if err is not a *CallError.
func KindOf(err error) Kind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}
