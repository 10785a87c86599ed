// Package fsm implements the update worker as a finite state machine workflow.
// It runs the battery gate, the download stage, a second battery gate, the
// recovery flash and the reboot into recovery using the superfly/fsm library.
package fsm

import (
	"context"

	"github.com/eon-neos/neosupdater/pkg/errors"
	"github.com/superfly/fsm"
)

// Register registers the update FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[UpdateRequest, UpdateResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[UpdateRequest, UpdateResponse](manager, "neos-update").
		Start(StateBatteryGateDownload, m.handleBatteryGate).
		To(StateDownload, m.handleDownload).
		To(StateBatteryGateInstall, m.handleBatteryGate).
		To(StateFlashRecovery, m.handleFlashRecovery).
		To(StateReboot, m.handleReboot).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}
