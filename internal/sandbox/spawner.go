package sandbox

import (
	"github.com/mattjoyce/lore/internal/protocol"
	"github.com/mattjoyce/lore/internal/worker"
)

//go:generate mockgen -destination=mocks/mock_sandbox.go -package=mocks github.com/mattjoyce/lore/internal/sandbox Spawner,Worker

// EventKind tags a worker event.
type EventKind int

const (
	EventMessage EventKind = iota + 1
	EventError
	EventExit
)

// Event is something a worker reports to its host.
type Event struct {
	Kind    EventKind
	Message protocol.Message // EventMessage
	Err     error            // EventError, EventExit (nil for a clean exit)
}

// Worker is a handle to one isolated worker.
type Worker interface {
	// Send delivers a message to the worker.
	Send(msg protocol.Message) error
	// Events yields worker events. EventExit is the last event; the channel
	// is closed after it.
	Events() <-chan Event
	// Terminate asks the worker to stop. It must not block and is safe to
	// call more than once.
	Terminate() error
}

// Spawner starts workers.
type Spawner interface {
	Spawn(spec worker.Spec) (Worker, error)
}
