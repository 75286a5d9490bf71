package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/lore/internal/config"
	"github.com/mattjoyce/lore/internal/extension"
	"github.com/mattjoyce/lore/internal/journal"
	"github.com/mattjoyce/lore/internal/log"
	"github.com/mattjoyce/lore/internal/sandbox"
	"github.com/mattjoyce/lore/internal/storage"
	"github.com/mattjoyce/lore/internal/worker"
)

// envWorkerLogLevel carries the host log level into worker processes.
const envWorkerLogLevel = "LORE_WORKER_LOG_LEVEL"

func runExtNoun(args []string) int {
	if len(args) < 1 {
		printExtNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printExtNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		return runExtList(actionArgs)
	case "call":
		return runExtCall(actionArgs)
	case "history":
		return runExtHistory(actionArgs)
	case "worker":
		return runExtWorker(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown ext action: %s\n", action)
		return 1
	}
}

func printExtNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: lore ext <action>")
	fmt.Fprintln(w, "Actions: list, call, history")
}

// newSpawner builds the worker spawner selected by extensions.isolation.
func newSpawner(cfg *config.Config, logger *slog.Logger) sandbox.Spawner {
	if cfg.Extensions.Isolation == config.IsolationInProcess {
		return &sandbox.InProcessSpawner{Loader: worker.PluginLoader{}, Logger: logger}
	}
	return &sandbox.ProcessSpawner{
		Env:    []string{envWorkerLogLevel + "=" + cfg.LogLevel},
		Logger: logger,
	}
}

// openJournal opens the database when the journal is enabled. Both return
// values are nil when it is not.
func openJournal(ctx context.Context, cfg *config.Config) (*sql.DB, *journal.Journal, error) {
	if !cfg.Extensions.JournalEnabled() {
		return nil, nil, nil
	}
	db, err := storage.OpenSQLite(ctx, cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return db, journal.New(db), nil
}

func runExtList(args []string) int {
	fs := flag.NewFlagSet("ext list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	logger := log.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	registry, err := discoverExtensions(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Extension discovery failed: %v\n", err)
		return 1
	}

	installed := registry.All()
	if *jsonOut {
		if installed == nil {
			installed = []*extension.Installed{}
		}
		return printJSON(installed)
	}
	if len(installed) == 0 {
		fmt.Println("No extensions installed.")
		return 0
	}

	theme := newTheme()
	rows := make([][]string, 0, len(installed))
	for _, ext := range installed {
		rows = append(rows, []string{ext.Name, ext.Version, ext.Package, ext.Route.ModulePath, ext.Description})
	}
	fmt.Println(theme.table([]string{"NAME", "VERSION", "PACKAGE", "MODULE", "DESCRIPTION"}, rows, -1))
	return 0
}

func runExtCall(args []string) int {
	fs := flag.NewFlagSet("ext call", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	argsJSON := fs.String("args", "{}", "Tool arguments as a JSON object")
	timeout := fs.Duration("timeout", 0, "Per-call timeout (default extensions.call_timeout)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Usage: lore ext call <extension> <tool> [--args JSON] [--timeout 30s]")
		return 1
	}
	name, tool := fs.Arg(0), fs.Arg(1)

	var toolArgs map[string]any
	if err := json.Unmarshal([]byte(*argsJSON), &toolArgs); err != nil {
		fmt.Fprintf(os.Stderr, "--args must be a JSON object: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.SetupWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	logger := log.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	registry, err := discoverExtensions(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Extension discovery failed: %v\n", err)
		return 1
	}
	ext, ok := registry.Get(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "Extension not found: %s\n", name)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []sandbox.Option{sandbox.WithLogger(logger.With("component", "sandbox"))}
	if *timeout > 0 {
		opts = append(opts, sandbox.WithTimeout(*timeout))
	} else {
		opts = append(opts, sandbox.WithTimeout(cfg.Extensions.CallTimeout))
	}
	db, jrnl, err := openJournal(ctx, cfg)
	if err != nil {
		logger.Warn("call journal unavailable", "db_path", cfg.DBPath, "error", err)
	}
	if db != nil {
		defer db.Close()
		opts = append(opts, sandbox.WithObserver(jrnl))
	}

	coord := sandbox.New(newSpawner(cfg, logger), opts...)
	defer coord.Dispose()

	result, err := coord.CallTool(ctx, ext.Route, tool, toolArgs, extension.ToolContext{
		Mode:    cfg.Mode,
		DataDir: cfg.DataDir,
		DBPath:  cfg.DBPath,
		Logger:  log.WithExtension(name),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return printJSON(result)
}

func runExtHistory(args []string) int {
	fs := flag.NewFlagSet("ext history", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	limit := fs.Int("limit", 20, "Number of calls to show")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if !cfg.Extensions.JournalEnabled() {
		fmt.Fprintln(os.Stderr, "The call journal is disabled (extensions.journal: false)")
		return 1
	}

	ctx := context.Background()
	db, jrnl, err := openJournal(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	entries, err := jrnl.Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read call journal: %v\n", err)
		return 1
	}
	if *jsonOut {
		if entries == nil {
			entries = []journal.Entry{}
		}
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("No tool calls recorded.")
		return 0
	}

	theme := newTheme()
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			e.Extension,
			e.Tool,
			string(e.Status),
			fmt.Sprintf("%dms", e.DurationMS),
			e.Error,
		})
	}
	fmt.Println(theme.table([]string{"STARTED", "EXTENSION", "TOOL", "STATUS", "DURATION", "ERROR"}, rows, 3))
	return 0
}

// runExtWorker is the entrypoint of a worker process. stdout carries the
// protocol; everything else, including logs and stray prints from extension
// code, goes to stderr.
func runExtWorker(args []string) int {
	fs := flag.NewFlagSet("ext worker", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	modulePath := fs.String("module", "", "Extension module path")
	cacheBust := fs.String("cache-bust", "", "Module fingerprint")
	name := fs.String("extension", "", "Extension name")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *modulePath == "" {
		fmt.Fprintln(os.Stderr, "ext worker: --module is required")
		return 2
	}

	protocolOut := os.Stdout
	os.Stdout = os.Stderr

	level := os.Getenv(envWorkerLogLevel)
	if level == "" {
		level = "info"
	}
	log.SetupWriter(os.Stderr, level, "json")
	logger := log.WithExtension(*name).With("component", "worker", "pid", os.Getpid())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := worker.New(worker.Spec{ModulePath: *modulePath, CacheBust: *cacheBust, ExtensionName: *name}, worker.PluginLoader{}, logger)
	if err := rt.Serve(ctx, os.Stdin, protocolOut); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", "error", err)
		return 1
	}
	return 0
}
