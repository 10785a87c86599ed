// Package status holds the shared update status read by the presentation
// layer and written by the pipeline worker.
package status

import (
	"sync"
)

// State is the coordinator's top-level state.
type State int

const (
	StateConfirmation State = iota
	StateLowBattery
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateConfirmation:
		return "confirmation"
	case StateLowBattery:
		return "low_battery"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// UpdateStatus is a point-in-time copy of the shared status.
type UpdateStatus struct {
	State              State
	ProgressText       string
	ProgressFraction   float64
	ErrorText          string
	BatteryPercentText string
}

// Sink accepts status mutations. Pipeline components depend on this rather
// than on Store so they never read status back.
type Sink interface {
	Mutate(fn func(*UpdateStatus))
}

// Store is the mutex-guarded owner of the status record.
type Store struct {
	mu sync.Mutex
	s  UpdateStatus
}

// NewStore returns a store starting in the given state.
func NewStore(initial State) *Store {
	return &Store{s: UpdateStatus{State: initial}}
}

// Snapshot returns a copy taken under the lock.
func (st *Store) Snapshot() UpdateStatus {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}

// Mutate applies fn under the lock. fn must not block.
func (st *Store) Mutate(fn func(*UpdateStatus)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.s)
}

// SetProgress replaces the progress text and resets the bar.
func SetProgress(sink Sink, text string) {
	if sink == nil {
		return
	}
	sink.Mutate(func(s *UpdateStatus) {
		s.ProgressText = text
		s.ProgressFraction = 0
	})
}

// SetFraction updates the progress bar, clamped to [0, 1].
func SetFraction(sink Sink, frac float64) {
	if sink == nil {
		return
	}
	if frac < 0 {
		frac = 0
	} else if frac > 1 {
		frac = 1
	}
	sink.Mutate(func(s *UpdateStatus) {
		s.ProgressFraction = frac
	})
}

// SetError moves to the error state with text attached.
func SetError(sink Sink, text string) {
	if sink == nil {
		return
	}
	sink.Mutate(func(s *UpdateStatus) {
		s.State = StateError
		s.ErrorText = text
	})
}

// SetLowBattery moves to the low battery state showing percent.
func SetLowBattery(sink Sink, percent string) {
	if sink == nil {
		return
	}
	sink.Mutate(func(s *UpdateStatus) {
		s.State = StateLowBattery
		s.BatteryPercentText = percent
	})
}

// SetBatteryText updates the battery percent shown while waiting to charge.
func SetBatteryText(sink Sink, percent string) {
	if sink == nil {
		return
	}
	sink.Mutate(func(s *UpdateStatus) {
		s.BatteryPercentText = percent
	})
}

// SetRunning moves to the running state.
func SetRunning(sink Sink) {
	if sink == nil {
		return
	}
	sink.Mutate(func(s *UpdateStatus) {
		s.State = StateRunning
	})
}
