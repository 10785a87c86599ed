package main

import (
	"log/slog"
	"os"

	"github.com/eon-neos/neosupdater/cmd/neosupdater/commands"
)

func main() {
	// Replaced once config is loaded; covers flag parsing and config errors.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
