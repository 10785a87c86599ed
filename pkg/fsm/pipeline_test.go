package fsm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/eon-neos/neosupdater/pkg/db"
	"github.com/eon-neos/neosupdater/pkg/errors"
	"github.com/superfly/fsm"
)

type fakeRunLedger struct {
	mu       sync.Mutex
	started  []*db.Run
	outcomes map[string]string
	messages map[string]string
}

func newRunLedger() *fakeRunLedger {
	return &fakeRunLedger{outcomes: map[string]string{}, messages: map[string]string{}}
}

func (l *fakeRunLedger) StartRun(_ context.Context, run *db.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, run)
	return nil
}

func (l *fakeRunLedger) FinishRun(_ context.Context, id, outcome, msg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes[id] = outcome
	l.messages[id] = msg
	return nil
}

func newManager(t *testing.T) *fsm.Manager {
	t.Helper()
	manager, err := fsm.New(fsm.Config{DBPath: t.TempDir()})
	if err != nil {
		t.Fatalf("fsm.New failed: %v", err)
	}
	t.Cleanup(func() { manager.Shutdown(time.Second) })
	return manager
}

func TestPipeline_Run(t *testing.T) {
	tests := []struct {
		name        string
		stager      *fakeStager
		reboot      *fakeReboot
		wantKind    errors.Kind
		wantMsg     string
		wantOutcome string
		wantReboot  string
	}{
		{
			name:        "success",
			stager:      &fakeStager{result: withRecovery()},
			reboot:      &fakeReboot{},
			wantOutcome: db.OutcomeSuccess,
			wantReboot:  "/data/neoupdate/ota.zip",
		},
		{
			name:        "download failure",
			stager:      &fakeStager{err: errors.Transfer("failed to download update", nil)},
			reboot:      &fakeReboot{},
			wantKind:    errors.KindTransfer,
			wantMsg:     "failed to download update",
			wantOutcome: db.OutcomeFailed,
		},
		{
			name:        "reboot failure",
			stager:      &fakeStager{result: withRecovery()},
			reboot:      &fakeReboot{err: errors.Reboot("failed to reboot into recovery", nil)},
			wantKind:    errors.KindReboot,
			wantMsg:     "failed to reboot into recovery",
			wantOutcome: db.OutcomeFailed,
			wantReboot:  "/data/neoupdate/ota.zip",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ledger := newRunLedger()
			flasher := &fakeFlasher{}
			machine := NewMachine(&fakeGate{}, tt.stager, flasher, tt.reboot, nil)

			p, err := NewPipeline(ctx, newManager(t), machine, "https://x/update.json", ledger)
			if err != nil {
				t.Fatalf("NewPipeline failed: %v", err)
			}

			err = p.Run(ctx)
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			} else {
				if !errors.Is(err, tt.wantKind) {
					t.Fatalf("expected %s error, got %v", tt.wantKind, err)
				}
				if errors.Message(err) != tt.wantMsg {
					t.Errorf("message = %q, want %q", errors.Message(err), tt.wantMsg)
				}
			}

			if tt.reboot.otaPath != tt.wantReboot {
				t.Errorf("reboot ota path = %q, want %q", tt.reboot.otaPath, tt.wantReboot)
			}

			ledger.mu.Lock()
			defer ledger.mu.Unlock()
			if len(ledger.started) != 1 {
				t.Fatalf("runs started = %d, want 1", len(ledger.started))
			}
			run := ledger.started[0]
			if run.Mode != db.ModeInteractive || run.ManifestURL != "https://x/update.json" || run.ID == "" {
				t.Errorf("unexpected run row %+v", run)
			}
			if got := ledger.outcomes[run.ID]; got != tt.wantOutcome {
				t.Errorf("outcome = %q, want %q", got, tt.wantOutcome)
			}
			if got := ledger.messages[run.ID]; got != tt.wantMsg {
				t.Errorf("recorded message = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}
