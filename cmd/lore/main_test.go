package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/lore/internal/extension"
	"github.com/mattjoyce/lore/internal/journal"
	"github.com/mattjoyce/lore/internal/log"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func runCaptured(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return runCLI(args) })
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion, origCommit, origBuildDate := version, gitCommit, buildDate
	version, gitCommit, buildDate = v, commit, built
	t.Cleanup(func() {
		version, gitCommit, buildDate = origVersion, origCommit, origBuildDate
	})
}

// writeWorkspace creates a config with one extension directory holding a
// "notes" extension whose module is not a loadable plugin.
func writeWorkspace(t *testing.T, journalOn bool) string {
	t.Helper()

	root := t.TempDir()
	extDir := filepath.Join(root, "extensions", "notes")
	if err := os.MkdirAll(extDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	manifest := "name: notes\npackage: lore-notes\nversion: 1.2.0\nmodule: notes.so\ndescription: Note tools\n"
	if err := os.WriteFile(filepath.Join(extDir, "extension.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(extDir, "notes.so"), []byte("not a plugin"), 0o644); err != nil {
		t.Fatalf("write module: %v", err)
	}

	cfg := "log_level: error\nextensions:\n  isolation: inprocess\n  call_timeout: 5s\n"
	if !journalOn {
		cfg += "  journal: false\n"
	}
	cfgPath := filepath.Join(root, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestVersionOutput(t *testing.T) {
	setVersionMetadataForTest(t, "1.4.0", "0123456789abcdef", "2026-01-02T03:04:05Z")

	code, stdout, _ := runCaptured(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "lore 1.4.0")
	assert.Contains(t, stdout, "commit: 0123456789ab")
	assert.Contains(t, stdout, "built_at: 2026-01-02T03:04:05Z")

	code, stdout, _ = runCaptured(t, "version", "--json")
	assert.Equal(t, 0, code)
	var info versionInfo
	assert.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, versionInfo{Version: "1.4.0", Commit: "0123456789ab", BuildTime: "2026-01-02T03:04:05Z"}, info)

	code, _, stderr := runCaptured(t, "version", "extra")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: lore version")
}

func TestUsageAndUnknownCommands(t *testing.T) {
	code, stdout, _ := runCaptured(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "ext call <ext> <tool>")

	code, _, stderr := runCaptured(t, "frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: frobnicate")

	code, _, stderr = runCaptured(t, "ext", "explode")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown ext action: explode")

	code, _, _ = runCaptured(t)
	assert.Equal(t, 1, code)
}

func TestExtList(t *testing.T) {
	cfgPath := writeWorkspace(t, false)

	code, stdout, stderr := runCaptured(t, "ext", "list", "--config", cfgPath)
	assert.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "notes")
	assert.Contains(t, stdout, "1.2.0")
	assert.Contains(t, stdout, "Note tools")

	code, stdout, _ = runCaptured(t, "ext", "list", "--config", cfgPath, "--json")
	assert.Equal(t, 0, code)
	var installed []extension.Installed
	assert.NoError(t, json.Unmarshal([]byte(stdout), &installed))
	if assert.Len(t, installed, 1) {
		assert.Equal(t, "lore-notes", installed[0].Package)
		assert.True(t, strings.HasSuffix(installed[0].Route.ModulePath, filepath.Join("notes", "notes.so")))
		assert.NotEmpty(t, installed[0].Route.CacheBust)
	}
}

func TestExtCallFailures(t *testing.T) {
	cfgPath := writeWorkspace(t, false)

	code, _, stderr := runCaptured(t, "ext", "call", "--config", cfgPath, "notes")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: lore ext call")

	code, _, stderr = runCaptured(t, "ext", "call", "--config", cfgPath, "--args", "[1]", "notes", "echo")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--args must be a JSON object")

	code, _, stderr = runCaptured(t, "ext", "call", "--config", cfgPath, "missing", "echo")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Extension not found: missing")

	// The module exists but is not a plugin: the route is unavailable.
	code, stdout, stderr := runCaptured(t, "ext", "call", "--config", cfgPath, "notes", "echo")
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "failed to load extension module")
}

func TestExtHistory(t *testing.T) {
	cfgPath := writeWorkspace(t, true)

	code, stdout, stderr := runCaptured(t, "ext", "history", "--config", cfgPath)
	assert.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "No tool calls recorded.")

	// A failed call still lands in the journal.
	code, _, _ = runCaptured(t, "ext", "call", "--config", cfgPath, "notes", "echo")
	assert.Equal(t, 1, code)

	code, stdout, stderr = runCaptured(t, "ext", "history", "--config", cfgPath, "--json")
	assert.Equal(t, 0, code, stderr)
	var entries []journal.Entry
	assert.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "notes", entries[0].Extension)
		assert.Equal(t, "echo", entries[0].Tool)
		assert.Equal(t, journal.StatusFailed, entries[0].Status)
	}

	code, stdout, _ = runCaptured(t, "ext", "history", "--config", cfgPath)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "failed")
}

func TestExtHistoryJournalDisabled(t *testing.T) {
	cfgPath := writeWorkspace(t, false)

	code, _, stderr := runCaptured(t, "ext", "history", "--config", cfgPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "journal is disabled")
}

func TestHistoryTableColorsStatus(t *testing.T) {
	rendered := newTheme().table(
		[]string{"STARTED", "EXTENSION", "TOOL", "STATUS"},
		[][]string{{time.Now().Format(time.DateTime), "notes", "echo", string(journal.StatusTimedOut)}},
		3,
	)
	assert.Contains(t, rendered, "timed_out")
	assert.Contains(t, rendered, "EXTENSION")
}

func TestServeRequiresEnabledAPI(t *testing.T) {
	cfgPath := writeWorkspace(t, false)

	code, _, stderr := runCaptured(t, "serve", "--config", cfgPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "api.enabled: true")
}

func TestServeUntilSignalWaitsForShutdown(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	drain := make(chan struct{})
	var stopped atomic.Bool
	start := func(ctx context.Context) error {
		<-ctx.Done()
		<-drain
		stopped.Store(true)
		return ctx.Err()
	}

	done := make(chan error, 1)
	go func() { done <- serveUntilSignal(context.Background(), start, sigCh, log.Discard()) }()
	sigCh <- syscall.SIGTERM

	select {
	case <-done:
		t.Fatal("returned while the server was still draining")
	case <-time.After(50 * time.Millisecond):
	}

	close(drain)
	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.True(t, stopped.Load())
	case <-time.After(time.Second):
		t.Fatal("serveUntilSignal did not return after the server stopped")
	}
}

func TestServeUntilSignalReportsStartFailure(t *testing.T) {
	start := func(context.Context) error { return errors.New("listen tcp :8080: address already in use") }
	err := serveUntilSignal(context.Background(), start, make(chan os.Signal), log.Discard())
	assert.EqualError(t, err, "listen tcp :8080: address already in use")
}

func TestExtWorkerRequiresModule(t *testing.T) {
	code, _, stderr := runCaptured(t, "ext", "worker")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "--module is required")
}

func TestDoctor(t *testing.T) {
	cfgPath := writeWorkspace(t, false)

	code, stdout, _ := runCaptured(t, "doctor", "--config", cfgPath)
	assert.Equal(t, 2, code)
	assert.Contains(t, stdout, "Configuration valid (1 warning(s))")
	assert.Contains(t, stdout, "WARN  [isolation]")

	code, stdout, _ = runCaptured(t, "doctor", "--config", cfgPath, "--json")
	assert.Equal(t, 2, code)
	var report struct {
		Valid      bool     `json:"valid"`
		Extensions []string `json:"extensions"`
	}
	assert.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, []string{"notes"}, report.Extensions)

	bad := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(bad, []byte("log_level: loud\n"), 0o644))
	code, stdout, _ = runCaptured(t, "doctor", "--config", bad)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "ERROR [config] log_level")
}

func TestWatchHelp(t *testing.T) {
	code, stdout, _ := runCaptured(t, "watch", "--help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Usage: lore watch")
}
