package main

import (
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// app holds shared state for all CLI subcommands.
type app struct {
	logger *slog.Logger
}

// newApp builds the shared CLI state. Unlike cmd/cm's newApp, there is no
// database to open up front — each subcommand resolves its own config and
// transport, since "run" and "status" may target entirely different
// transports.
func newApp() (*app, error) {
	return &app{logger: slog.New(slog.NewTextHandler(os.Stderr, nil))}, nil
}

// resolveRunID returns runID if non-empty, otherwise mints a fresh one,
// the same way an unset MABM_RUN_ID is handled at startup.
func resolveRunID(runID string) string {
	if runID != "" {
		return runID
	}
	return uuid.NewString()
}
