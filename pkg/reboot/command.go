package reboot

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/eon-neos/neosupdater/pkg/errors"
)

// Run executes a command line split on whitespace, without a shell.
func Run(ctx context.Context, cmdline string) error {
	args := strings.Fields(cmdline)
	if len(args) == 0 {
		return fmt.Errorf("empty command")
	}
	slog.Info("command_exec", "command", cmdline)
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
	if err != nil {
		slog.Error("command_failed", "command", cmdline, "output", strings.TrimSpace(string(out)), "error", err)
		return errors.Wrap(err, "command failed")
	}
	return nil
}

// CommandRebooter reboots by running a command, by default the Android
// power service call that restarts into recovery.
type CommandRebooter struct {
	Command string
}

func (r CommandRebooter) Reboot(ctx context.Context) error {
	return Run(ctx, r.Command)
}
