package fsm

import (
	"context"
	"log/slog"

	"github.com/eon-neos/neosupdater/pkg/db"
	"github.com/eon-neos/neosupdater/pkg/errors"
	"github.com/google/uuid"
	"github.com/superfly/fsm"
)

// RunLedger records pipeline runs.
type RunLedger interface {
	StartRun(ctx context.Context, run *db.Run) error
	FinishRun(ctx context.Context, id, outcome, errorMessage string) error
}

// Pipeline runs the registered update FSM once per call to Run.
type Pipeline struct {
	manager     *fsm.Manager
	machine     *Machine
	start       fsm.Start[UpdateRequest, UpdateResponse]
	manifestURL string
	ledger      RunLedger
}

// NewPipeline registers machine with manager. ledger may be nil.
func NewPipeline(ctx context.Context, manager *fsm.Manager, machine *Machine, manifestURL string, ledger RunLedger) (*Pipeline, error) {
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		manager:     manager,
		machine:     machine,
		start:       start,
		manifestURL: manifestURL,
		ledger:      ledger,
	}, nil
}

// Run executes one update and waits for it. On failure it returns the error
// of the step that failed; on success the reboot step never hands control back.
func (p *Pipeline) Run(ctx context.Context) error {
	runID := uuid.NewString()
	p.recordStart(ctx, runID)

	req := &UpdateRequest{RunID: runID, ManifestURL: p.manifestURL}
	resp := &UpdateResponse{}

	version, err := p.start(ctx, runID, fsm.NewRequest(req, resp))
	if err != nil {
		err = errors.Wrap(err, "FSM start failed")
		p.recordFinish(ctx, runID, err)
		return err
	}

	slog.Info("fsm_started", "run_id", runID, "version", version)

	waitErr := p.manager.Wait(ctx, version)
	if failure := p.machine.takeFailure(runID); failure != nil {
		p.recordFinish(ctx, runID, failure)
		return failure
	}
	if waitErr != nil {
		err := errors.Wrap(waitErr, "FSM execution failed")
		p.recordFinish(ctx, runID, err)
		return err
	}

	slog.Info("fsm_complete", "run_id", runID, "status", resp.Status)
	p.recordFinish(ctx, runID, nil)
	return nil
}

func (p *Pipeline) recordStart(ctx context.Context, runID string) {
	if p.ledger == nil {
		return
	}
	run := &db.Run{ID: runID, ManifestURL: p.manifestURL, Mode: db.ModeInteractive}
	if err := p.ledger.StartRun(ctx, run); err != nil {
		slog.Warn("ledger_run_start_failed", "run_id", runID, "error", err)
	}
}

func (p *Pipeline) recordFinish(ctx context.Context, runID string, err error) {
	if p.ledger == nil {
		return
	}
	outcome := db.OutcomeSuccess
	if err != nil {
		outcome = db.OutcomeFailed
	}
	if lerr := p.ledger.FinishRun(ctx, runID, outcome, errors.Message(err)); lerr != nil {
		slog.Warn("ledger_run_finish_failed", "run_id", runID, "error", lerr)
	}
}
