package commands

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/eon-neos/neosupdater/internal/config"
	"github.com/eon-neos/neosupdater/pkg/errors"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath, updateDir string) error {
	// Create database directory
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	// Create FSM database directory (only needed for the interactive update)
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	if updateDir != "" {
		if err := os.MkdirAll(updateDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create update directory")
		}
	}

	return nil
}

// setupLogging replaces the default logger with one at the configured level,
// writing to the log file when one is set.
func setupLogging(cfg *config.Config) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		return errors.Wrap(err, "invalid log level")
	}

	out := os.Stderr
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
			return errors.Wrap(err, "failed to create log directory")
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, "failed to open log file")
		}
		out = f
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
	return nil
}
