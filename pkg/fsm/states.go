package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/eon-neos/neosupdater/pkg/db"
	"github.com/eon-neos/neosupdater/pkg/errors"
	"github.com/eon-neos/neosupdater/pkg/stage"
	"github.com/superfly/fsm"
)

// BatteryGate blocks until the battery can sustain the next step.
type BatteryGate interface {
	Wait(ctx context.Context) error
}

// Stager runs the download stage.
type Stager interface {
	Run(ctx context.Context, dryRun bool) (*stage.Result, error)
}

// RecoveryFlasher writes a staged recovery image to the partition.
type RecoveryFlasher interface {
	Flash(ctx context.Context, staged, hash string, length int64) error
}

// RebootOrchestrator hands the OTA package to recovery and reboots.
type RebootOrchestrator interface {
	RequestInstallAndReboot(ctx context.Context, otaPath string) error
}

// ArtifactLedger records artifact state changes made by the worker.
type ArtifactLedger interface {
	UpdateArtifactStatus(ctx context.Context, name, status, errorMessage string) error
}

// Machine holds dependencies for FSM transitions
type Machine struct {
	gate    BatteryGate
	stage   Stager
	flasher RecoveryFlasher
	reboot  RebootOrchestrator
	ledger  ArtifactLedger

	mu       sync.Mutex
	failures map[string]error
}

// NewMachine creates a new FSM machine with dependencies. ledger may be nil.
func NewMachine(
	gate BatteryGate,
	stager Stager,
	flasher RecoveryFlasher,
	reboot RebootOrchestrator,
	ledger ArtifactLedger,
) *Machine {
	return &Machine{
		gate:     gate,
		stage:    stager,
		flasher:  flasher,
		reboot:   reboot,
		ledger:   ledger,
		failures: make(map[string]error),
	}
}

// fail records the first failure of a run and aborts the FSM. The recorded
// error keeps its kind and user-facing message for the coordinator.
func (m *Machine) fail(req *fsm.Request[UpdateRequest, UpdateResponse], err error) (*fsm.Response[UpdateResponse], error) {
	m.mu.Lock()
	if _, ok := m.failures[req.Msg.RunID]; !ok {
		m.failures[req.Msg.RunID] = err
	}
	m.mu.Unlock()

	if resp := req.W.Msg; resp != nil {
		resp.Status = StatusFailed
		resp.ErrorMessage = errors.Message(err)
	}
	return nil, fsm.Abort(err)
}

// takeFailure returns and forgets the failure recorded for runID.
func (m *Machine) takeFailure(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.failures[runID]
	delete(m.failures, runID)
	return err
}

// handleBatteryGate waits for enough charge. It runs before the download
// and again before anything touches the recovery partition.
func (m *Machine) handleBatteryGate(ctx context.Context, req *fsm.Request[UpdateRequest, UpdateResponse]) (*fsm.Response[UpdateResponse], error) {
	slog.Info("fsm_state_battery_gate", "run_id", req.Msg.RunID)

	resp := req.W.Msg
	if resp == nil {
		resp = &UpdateResponse{}
	}

	if err := m.gate.Wait(ctx); err != nil {
		slog.Error("battery_gate_failed", "run_id", req.Msg.RunID, "error", err)
		return m.fail(req, errors.Wrap(err, "battery gate interrupted"))
	}

	return fsm.NewResponse(resp), nil
}

// handleDownload stages the recovery and OTA images
func (m *Machine) handleDownload(ctx context.Context, req *fsm.Request[UpdateRequest, UpdateResponse]) (*fsm.Response[UpdateResponse], error) {
	slog.Info("fsm_state_download", "run_id", req.Msg.RunID, "manifest_url", req.Msg.ManifestURL)

	resp := req.W.Msg
	if resp == nil {
		return m.fail(req, fmt.Errorf("response not initialized"))
	}

	result, err := m.stage.Run(ctx, false)
	if err != nil {
		slog.Error("download_stage_failed", "run_id", req.Msg.RunID, "error", err)
		return m.fail(req, err)
	}

	resp.OTAPath = result.OTA.LocalPath
	if result.Recovery != nil {
		resp.RecoveryPath = result.Recovery.LocalPath
		resp.RecoveryHash = result.Manifest.RecoveryHash
		resp.RecoveryLen = result.Manifest.RecoveryLen
	}
	resp.Status = StatusStaged

	return fsm.NewResponse(resp), nil
}

// handleFlashRecovery writes the staged recovery image, when there is one
func (m *Machine) handleFlashRecovery(ctx context.Context, req *fsm.Request[UpdateRequest, UpdateResponse]) (*fsm.Response[UpdateResponse], error) {
	slog.Info("fsm_state_flash_recovery", "run_id", req.Msg.RunID)

	resp := req.W.Msg
	if resp == nil {
		return m.fail(req, fmt.Errorf("response not initialized"))
	}

	if resp.RecoveryPath == "" {
		slog.Info("recovery_flash_skipped", "run_id", req.Msg.RunID)
		return fsm.NewResponse(resp), nil
	}

	if err := m.flasher.Flash(ctx, resp.RecoveryPath, resp.RecoveryHash, resp.RecoveryLen); err != nil {
		slog.Error("recovery_flash_failed", "run_id", req.Msg.RunID, "error", err)
		return m.fail(req, err)
	}

	resp.RecoveryFlashed = true
	resp.Status = StatusFlashed

	if m.ledger != nil {
		if err := m.ledger.UpdateArtifactStatus(ctx, filepath.Base(resp.RecoveryPath), db.StatusFlashed, ""); err != nil {
			slog.Warn("ledger_update_failed", "run_id", req.Msg.RunID, "error", err)
		}
	}

	return fsm.NewResponse(resp), nil
}

// handleReboot writes the recovery command and reboots. On success it does
// not return until the device goes down.
func (m *Machine) handleReboot(ctx context.Context, req *fsm.Request[UpdateRequest, UpdateResponse]) (*fsm.Response[UpdateResponse], error) {
	slog.Info("fsm_state_reboot", "run_id", req.Msg.RunID)

	resp := req.W.Msg
	if resp == nil || resp.OTAPath == "" {
		return m.fail(req, errors.Reboot("failed to reboot into recovery", fmt.Errorf("no staged update")))
	}

	resp.Status = StatusRebooting
	if err := m.reboot.RequestInstallAndReboot(ctx, resp.OTAPath); err != nil {
		slog.Error("reboot_failed", "run_id", req.Msg.RunID, "error", err)
		return m.fail(req, err)
	}

	return fsm.NewResponse(resp), nil
}
