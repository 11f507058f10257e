// Package main is the entry point for the eco-hacks API server.
//
// MAIN PACKAGE IN GO:
// Every Go program starts execution in the main() function of the "main" package.
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (from env vars or a .env file)
// 2. Create the logger
// 3. Hand both to the server and start it
//
// All actual logic lives in imported packages (internal/server, internal/service, etc.).
//
// WHY cmd/server/?
// The cmd/ directory is a Go convention for executable entry points.
// This project has two: cmd/server (the API) and cmd/admin (operator tasks).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sakif/ecohacks/internal/config"
	"github.com/sakif/ecohacks/internal/logging"
	"github.com/sakif/ecohacks/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// config.Load reads .env (if present) and the environment, and reports
	// every missing or invalid key in one error. SECRET_KEY has no default.
	cfg, err := config.Load()
	if err != nil {
		// no logger yet; the format is part of the config we failed to load
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// LOG_FORMAT=json for production log shipping, "text" for a colored
	// terminal. LOG_LEVEL is one of debug, info, warn, error.
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if !cfg.GoogleCodeFlow() {
		logger.Info("google redirect login disabled; set GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URL to enable it")
	}

	// === 3. CREATE AND START THE SERVER ===
	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
