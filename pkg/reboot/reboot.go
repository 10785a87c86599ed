// Package reboot hands the staged OTA package to the recovery installer and
// restarts the device into recovery.
package reboot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/eon-neos/neosupdater/pkg/errors"
	"github.com/eon-neos/neosupdater/pkg/status"
	"github.com/spf13/afero"
)

const msgFailed = "failed to reboot into recovery"

// Rebooter restarts the device into recovery.
type Rebooter interface {
	Reboot(ctx context.Context) error
}

// Orchestrator writes the recovery command and triggers the reboot.
type Orchestrator struct {
	fs          afero.Fs
	commandPath string
	rebooter    Rebooter
	sink        status.Sink
	wait        func()
}

// New creates an Orchestrator. After a successful reboot request it blocks
// forever; the device going down ends the process.
func New(fs afero.Fs, commandPath string, rebooter Rebooter, sink status.Sink) *Orchestrator {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Orchestrator{
		fs:          fs,
		commandPath: commandPath,
		rebooter:    rebooter,
		sink:        sink,
		wait:        func() { select {} },
	}
}

// RequestInstallAndReboot points the recovery installer at otaPath and
// reboots. It only returns on failure, or after the wait hook returns.
func (o *Orchestrator) RequestInstallAndReboot(ctx context.Context, otaPath string) error {
	if !filepath.IsAbs(otaPath) {
		abs, err := filepath.Abs(otaPath)
		if err != nil {
			return errors.Reboot(msgFailed, err)
		}
		otaPath = abs
	}

	if err := o.writeCommand(otaPath); err != nil {
		slog.Error("recovery_command_write_failed", "path", o.commandPath, "error", err)
		return errors.Reboot(msgFailed, err)
	}
	slog.Info("recovery_command_written", "path", o.commandPath, "update_package", otaPath)

	status.SetProgress(o.sink, "Rebooting")

	if err := o.rebooter.Reboot(ctx); err != nil {
		slog.Error("reboot_request_failed", "error", err)
		return errors.Reboot(msgFailed, err)
	}

	slog.Info("reboot_requested")
	o.wait()
	return nil
}

func (o *Orchestrator) writeCommand(otaPath string) error {
	f, err := o.fs.OpenFile(o.commandPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "--update_package=%s\n", otaPath); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
