// Package sandbox runs extension tool handlers in isolated workers and exposes
// them to the host as a plain blocking call.
//
// The Coordinator keeps one worker per extension module path. Each call gets a
// fresh correlation id, a pending entry and its own timer; the worker echoes
// the id back and the Coordinator settles whichever call it belongs to.
// Responses may arrive in any order.
//
// Worker isolation:
//   - ProcessSpawner re-executes the host binary as a worker process that
//     speaks newline-delimited JSON over stdin/stdout (default)
//   - InProcessSpawner runs the worker runtime on a goroutine over in-memory
//     pipes; handler panics become worker exits
//
// Neither mode is a security boundary. Both contain faults.
//
// Fault handling:
//   - Handler error → that call fails, the worker keeps serving
//   - Unknown tool → that call fails with "Tool not found: <name>"
//   - Worker error, unexpected exit or call timeout → every pending call on
//     the worker fails, the worker is discarded and the next call respawns it
//   - Module load failure → as above, and the module path is quarantined for
//     the lifetime of the Coordinator; later calls fail without spawning
//
// There are no retries. Timeouts discard the whole worker because a hung
// handler may have wedged it.
package sandbox
