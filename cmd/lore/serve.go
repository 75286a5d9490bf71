package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattjoyce/lore/internal/api"
	"github.com/mattjoyce/lore/internal/auth"
	"github.com/mattjoyce/lore/internal/config"
	"github.com/mattjoyce/lore/internal/events"
	"github.com/mattjoyce/lore/internal/journal"
	"github.com/mattjoyce/lore/internal/lock"
	"github.com/mattjoyce/lore/internal/log"
	"github.com/mattjoyce/lore/internal/sandbox"
)

const (
	journalPruneInterval = time.Hour
	eventBufferSize      = 256
)

func printServeHelp() {
	fmt.Println("Usage: lore serve [--config PATH] [--listen ADDR]")
	fmt.Println("Serve the extension HTTP API until interrupted. Requires api.enabled: true.")
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	listen := fs.String("listen", "", "Override api.listen")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if !cfg.API.Enabled {
		fmt.Fprintln(os.Stderr, "The HTTP API is disabled; set api.enabled: true to serve")
		return 1
	}
	if *listen != "" {
		cfg.API.Listen = *listen
	}

	log.Setup(cfg.LogLevel, cfg.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("lore starting", "version", version, "mode", cfg.Mode, "data_dir", cfg.DataDir)

	pidPath := filepath.Join(cfg.DataDir, "lore.pid")
	pidLock, err := lock.Acquire(pidPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another server may be running)", "path", pidPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := discoverExtensions(cfg, log.WithComponent("discovery"))
	if err != nil {
		logger.Error("extension discovery failed", "dirs", cfg.Extensions.Dirs, "error", err)
		return 1
	}
	logger.Info("extension discovery complete", "count", len(registry.All()))

	hub := events.NewHub(eventBufferSize)
	opts := []sandbox.Option{sandbox.WithTimeout(cfg.Extensions.CallTimeout), sandbox.WithObserver(hub)}
	db, jrnl, err := openJournal(ctx, cfg)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DBPath, "error", err)
		return 1
	}
	var history api.CallHistory
	if db != nil {
		defer db.Close()
		opts = append(opts, sandbox.WithObserver(jrnl))
		history = jrnl
		pruned := make(chan struct{})
		go func() {
			defer close(pruned)
			pruneJournal(ctx, jrnl, cfg.Extensions.JournalRetention)
		}()
		// Runs before db.Close.
		defer func() {
			cancel()
			<-pruned
		}()
	}

	coord := sandbox.New(newSpawner(cfg, log.WithComponent("sandbox")), opts...)
	defer coord.Dispose()

	server := api.New(apiConfig(cfg), coord, registry, history, log.WithComponent("api")).WithEvents(hub)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := serveUntilSignal(ctx, server.Start, sigCh, logger); err != nil {
		logger.Error("api server failed", "error", err)
		return 1
	}

	logger.Info("lore stopped")
	return 0
}

// serveUntilSignal runs start until it fails or a signal arrives. On a
// signal it cancels start and waits for it to return, so in-flight requests
// drain before the caller tears down the coordinator and the database.
func serveUntilSignal(ctx context.Context, start func(context.Context) error, sigCh <-chan os.Signal, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- start(ctx) }()

	var err error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		err = <-done
	case err = <-done:
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func apiConfig(cfg *config.Config) api.Config {
	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Tokens))
	for _, t := range cfg.API.Tokens {
		tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return api.Config{
		Listen:  cfg.API.Listen,
		APIKey:  cfg.API.APIKey,
		Tokens:  tokens,
		Mode:    cfg.Mode,
		DataDir: cfg.DataDir,
		DBPath:  cfg.DBPath,
	}
}

func pruneJournal(ctx context.Context, j *journal.Journal, retention time.Duration) {
	logger := log.WithComponent("journal")
	ticker := time.NewTicker(journalPruneInterval)
	defer ticker.Stop()

	for {
		if n, err := j.Prune(ctx, retention); err != nil {
			logger.Warn("journal prune failed", "error", err)
		} else if n > 0 {
			logger.Info("pruned tool call journal", "deleted", n, "retention", retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
