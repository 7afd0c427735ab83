// Package main provides the entry point for the reclaim CLI tool.
package main

import (
	"context"
	"os"
	"time"

	"github.com/agentstation/reclaim/cmd/reclaim/app"
)

// Version information populated by goreleaser.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "unknown"
)

func main() {
	// Create app instance
	application, err := app.New(version, commit, date, builtBy)
	if err != nil {
		app.ExitOnError(err)
	}

	// Create context with signal handling for graceful shutdown
	ctx, cancel := app.ContextWithSignals(context.Background())

	err = application.Execute(ctx, os.Args[1:])
	cancel()

	// Release the ledger and other resources with a fresh context
	// (the signal context may be cancelled)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if shutdownErr := application.Shutdown(shutdownCtx); shutdownErr != nil {
		application.Logger().Error().Err(shutdownErr).Msg("Shutdown error")
	}
	shutdownCancel()

	app.ExitOnError(err)
}
