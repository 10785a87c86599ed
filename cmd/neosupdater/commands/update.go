package commands

import (
	"context"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/superfly/fsm"

	"github.com/eon-neos/neosupdater/internal/config"
	"github.com/eon-neos/neosupdater/internal/console"
	"github.com/eon-neos/neosupdater/pkg/coordinator"
	"github.com/eon-neos/neosupdater/pkg/db"
	"github.com/eon-neos/neosupdater/pkg/errors"
	"github.com/eon-neos/neosupdater/pkg/flash"
	appfsm "github.com/eon-neos/neosupdater/pkg/fsm"
	"github.com/eon-neos/neosupdater/pkg/hasher"
	"github.com/eon-neos/neosupdater/pkg/preflight"
	"github.com/eon-neos/neosupdater/pkg/reboot"
	"github.com/eon-neos/neosupdater/pkg/status"
)

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	src, err := config.ResolveSource(args, cfg)
	if err != nil {
		return err
	}
	slog.Info("manifest_source", "kind", src.Kind.String(), "url", src.ManifestURL)

	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, cfg.UpdateDir); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	if src.Kind == config.SourceBackgroundCache {
		return runBackgroundCache(ctx, src.ManifestURL, repo)
	}
	return runInteractive(ctx, src.ManifestURL, repo)
}

// runBackgroundCache stages the update with no display and exits. A
// non-nil error makes the process exit 1.
func runBackgroundCache(ctx context.Context, manifestURL string, repo *db.Repository) error {
	runID := uuid.NewString()
	if err := repo.StartRun(ctx, &db.Run{ID: runID, ManifestURL: manifestURL, Mode: db.ModeBackground}); err != nil {
		slog.Warn("ledger_run_start_failed", "run_id", runID, "error", err)
	}

	fs := afero.NewOsFs()
	_, err := newStage(ctx, cfg, fs, manifestURL, nil, repo).Run(ctx, false)

	outcome := db.OutcomeSuccess
	if err != nil {
		outcome = db.OutcomeFailed
	}
	if lerr := repo.FinishRun(ctx, runID, outcome, errors.Message(err)); lerr != nil {
		slog.Warn("ledger_run_finish_failed", "run_id", runID, "error", lerr)
	}

	if err != nil {
		slog.Error("bgcache_failed", "error", err)
		return err
	}
	slog.Info("bgcache_complete", "manifest_url", manifestURL)
	return nil
}

func runInteractive(ctx context.Context, manifestURL string, repo *db.Repository) error {
	fs := afero.NewOsFs()
	store := status.NewStore(status.StateConfirmation)

	stager := newStage(ctx, cfg, fs, manifestURL, store, repo)
	gate := preflight.NewGate(newBattery(cfg, fs), store, cfg.BatteryPollInterval)
	flasher := flash.New(nil, hasher.New(fs), cfg.RecoveryDevice, store)
	orchestrator := reboot.New(fs, cfg.RecoveryCommand, newRebooter(cfg), store)

	manager, err := fsm.New(fsm.Config{DBPath: cfg.FSMDBPath})
	if err != nil {
		return errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(10 * time.Second)

	machine := appfsm.NewMachine(gate, stager, flasher, orchestrator, repo)
	pipeline, err := appfsm.NewPipeline(ctx, manager, machine, manifestURL, repo)
	if err != nil {
		return errors.Wrap(err, "FSM register failed")
	}

	// A started worker runs to completion. A signal only closes the console.
	workerCtx := context.WithoutCancel(ctx)

	coord := coordinator.New(store, stager, pipeline, settingsAction(cfg.SettingsCommand))
	coord.Start(workerCtx)

	if err := console.Run(coord, tea.WithContext(ctx)); err != nil {
		slog.Warn("console_exited", "error", err)
	}

	if coord.Launched() {
		select {
		case <-coord.WorkerDone():
		default:
			slog.Info("waiting_for_worker")
			<-coord.WorkerDone()
		}
	}

	select {
	case <-coord.Done():
	default:
		slog.Info("updater_interrupted", "state", coord.Snapshot().State.String())
		return nil
	}

	// The user left the error screen.
	snap := coord.Snapshot()
	slog.Info("updater_exit_after_error", "error_text", snap.ErrorText)
	if cfg.ExitRebootCommand == "" {
		return errors.Reboot(snap.ErrorText, nil)
	}
	if err := reboot.Run(context.WithoutCancel(ctx), cfg.ExitRebootCommand); err != nil {
		return errors.Wrap(err, "exit reboot failed")
	}
	return nil
}

func newRebooter(cfg *config.Config) reboot.Rebooter {
	if cfg.RebootMethod == config.RebootMethodSyscall {
		return reboot.SyscallRebooter{}
	}
	return reboot.CommandRebooter{Command: cfg.RebootCommand}
}

func settingsAction(command string) func(context.Context) error {
	if command == "" {
		return nil
	}
	return func(ctx context.Context) error {
		return reboot.Run(ctx, command)
	}
}
