// Package coordinator owns the update status and drives the pipeline worker
// in response to user intents.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/eon-neos/neosupdater/pkg/errors"
	"github.com/eon-neos/neosupdater/pkg/stage"
	"github.com/eon-neos/neosupdater/pkg/status"
)

// Intent is a discrete user action forwarded by the presentation layer.
type Intent int

const (
	IntentConfirm Intent = iota
	IntentAltAction
	IntentDismiss
)

func (i Intent) String() string {
	switch i {
	case IntentConfirm:
		return "confirm"
	case IntentAltAction:
		return "alt_action"
	case IntentDismiss:
		return "dismiss"
	default:
		return "unknown"
	}
}

// DryRunner checks whether the update is already staged.
type DryRunner interface {
	Run(ctx context.Context, dryRun bool) (*stage.Result, error)
}

// Pipeline runs the full update. It returns only on failure in production.
type Pipeline interface {
	Run(ctx context.Context) error
}

// Coordinator is the top-level update state machine.
type Coordinator struct {
	store     *status.Store
	stage     DryRunner
	pipeline  Pipeline
	altAction func(ctx context.Context) error

	ctx      context.Context
	worker   sync.Once
	launched atomic.Bool
	exit     sync.Once
	done     chan struct{}
	finished chan struct{}
}

// New creates a coordinator. altAction runs on AltAction while waiting for
// confirmation and may be nil.
func New(store *status.Store, stager DryRunner, pipeline Pipeline, altAction func(ctx context.Context) error) *Coordinator {
	return &Coordinator{
		store:     store,
		stage:     stager,
		pipeline:  pipeline,
		altAction: altAction,
		ctx:       context.Background(),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
	}
}

// Start decides the initial state. If a dry run shows the update already
// staged it goes straight to running and launches the worker; otherwise it
// waits for confirmation.
func (c *Coordinator) Start(ctx context.Context) {
	c.ctx = ctx

	if _, err := c.stage.Run(ctx, true); err != nil {
		slog.Info("coordinator_awaiting_confirmation", "reason", err)
		c.store.Mutate(func(s *status.UpdateStatus) {
			s.State = status.StateConfirmation
			s.ProgressText = ""
			s.ProgressFraction = 0
		})
		return
	}

	slog.Info("coordinator_fast_path", "reason", "update_already_staged")
	status.SetRunning(c.store)
	c.launch()
}

// Snapshot returns a consistent copy of the status.
func (c *Coordinator) Snapshot() status.UpdateStatus {
	return c.store.Snapshot()
}

// Submit applies a user intent. Intents that do not apply to the current
// state are ignored.
func (c *Coordinator) Submit(intent Intent) {
	var (
		launch      bool
		runAlt      bool
		requestExit bool
	)
	c.store.Mutate(func(s *status.UpdateStatus) {
		switch s.State {
		case status.StateConfirmation:
			switch intent {
			case IntentConfirm:
				s.State = status.StateRunning
				launch = true
			case IntentAltAction:
				runAlt = true
			}
		case status.StateError:
			if intent == IntentAltAction || intent == IntentDismiss {
				requestExit = true
			}
		}
	})

	slog.Debug("coordinator_intent", "intent", intent.String(), "launch", launch, "alt_action", runAlt, "exit", requestExit)

	switch {
	case launch:
		c.launch()
	case runAlt && c.altAction != nil:
		go func() {
			if err := c.altAction(c.ctx); err != nil {
				slog.Warn("alt_action_failed", "error", err)
			}
		}()
	case requestExit:
		c.exit.Do(func() { close(c.done) })
	}
}

// Done is closed when the user asks to leave the error screen.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// WorkerDone is closed when the worker returns. It never closes if the
// worker was not launched.
func (c *Coordinator) WorkerDone() <-chan struct{} {
	return c.finished
}

// Launched reports whether the worker has been started.
func (c *Coordinator) Launched() bool {
	return c.launched.Load()
}

// launch starts the pipeline worker at most once.
func (c *Coordinator) launch() {
	c.worker.Do(func() {
		c.launched.Store(true)
		slog.Info("coordinator_worker_started")
		go func() {
			defer close(c.finished)
			if err := c.pipeline.Run(c.ctx); err != nil {
				slog.Error("update_failed", "error", err)
				status.SetError(c.store, errors.Message(err))
			}
		}()
	})
}
