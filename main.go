// appbackup — database and media backup orchestration.
// Streams native engine dumps through optional compression and encryption
// to pluggable storage, and restores them back.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"appbackup/cmd"
	"appbackup/internal/config"
	"appbackup/internal/exitcode"
	"appbackup/internal/logger"
)

// Build information (set by ldflags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	// Create context that cancels on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.New()

	// Set version information
	cfg.Version = version
	cfg.BuildTime = buildTime
	cfg.GitCommit = gitCommit

	// Initialize logger — promote to debug level when Debug flag is set
	logLevel := cfg.LogLevel
	if cfg.Debug && logLevel != "debug" {
		logLevel = "debug"
	}
	log := logger.New(logLevel, cfg.LogFormat)

	// Execute command
	if err := cmd.Execute(ctx, cfg, log); err != nil {
		log.Error("Command failed", "error", err)
		os.Exit(exitcode.ExitWithCode(err))
	}
}
