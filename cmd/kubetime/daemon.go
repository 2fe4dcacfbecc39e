package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pkg/browser"

	rootpkg "github.com/hackclub/hackatime-desktop"
	"github.com/hackclub/hackatime-desktop/internal/app"
	"github.com/hackclub/hackatime-desktop/internal/config"
	"github.com/hackclub/hackatime-desktop/internal/inbox"
	"github.com/hackclub/hackatime-desktop/internal/logger"
)

// ///////////////////////////////////////////////
// Daemon
// ///////////////////////////////////////////////

// loadConfig creates the data directory, seeds config.toml from the embedded
// default on first run and loads it.
func loadConfig(dp DataPaths) (*config.Config, error) {
	if err := os.MkdirAll(dp.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if _, err := os.Stat(dp.Config()); errors.Is(err, os.ErrNotExist) {
		if writeErr := os.WriteFile(dp.Config(), rootpkg.DefaultConfigTOML, 0o644); writeErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", writeErr)
		}
	}
	cfg, err := config.Load(dp.Root)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// runDaemon runs the long-lived process until SIGINT or SIGTERM.
func runDaemon(dp DataPaths, stderr io.Writer) int {
	cfg, err := loadConfig(dp)
	if err != nil {
		fmt.Fprintf(stderr, "fatal: %v\n", err)
		return 1
	}

	if alive, pid := checkStalePID(dp); alive {
		fmt.Fprintf(stderr, "daemon already running (pid %d)\n", pid)
		return 1
	}

	log, logCloser, err := logger.NewLogger(dp.Log(), logger.ParseLevel(cfg.Log.Level), cfg.Log.MaxSizeMB)
	if err != nil {
		fmt.Fprintf(stderr, "fatal: init logger: %v\n", err)
		return 1
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	ver := resolveVersion()
	slog.Info("kubetime starting", "version", ver, "data_dir", dp.Root)

	token := pidToken()
	pidFile, err := writePID(dp, token)
	if err != nil {
		slog.Error("failed to write PID file", "error", err)
		return 1
	}
	defer removePID(dp, token, pidFile)

	ctx, stop := shutdownContext(context.Background())
	defer stop()

	// The browser helper writes to the process stdio, which nobody reads.
	browser.Stdout, browser.Stderr = io.Discard, io.Discard

	a, err := app.New(ctx, app.Options{
		Config:  cfg,
		Paths:   dp,
		Version: ver,
		OpenURL: browser.OpenURL,
		Logger:  log,
	})
	if err != nil {
		logger.Fail(log, "failed to start", "error", err)
		return 1
	}
	defer a.Close()

	watcher, err := inbox.NewWatcher(dp.Inbox())
	if err != nil {
		slog.Error("failed to create inbox watcher", "error", err)
		return 1
	}
	defer watcher.Close()
	if watcher.Polling() {
		slog.Info("using polling mode for the inbox")
	}

	if err := a.Run(ctx, watcher.Events()); err != nil {
		logger.Fail(log, "daemon stopped", "error", err)
		return 1
	}
	slog.Info("received shutdown signal")
	a.WriteStatus()
	return 0
}
