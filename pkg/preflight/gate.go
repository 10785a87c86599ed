package preflight

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/eon-neos/neosupdater/pkg/status"
)

// DefaultPollInterval is how often the gate re-reads capacity.
const DefaultPollInterval = time.Second

// Gate blocks the pipeline until the battery can sustain an update.
type Gate struct {
	battery  *Battery
	sink     status.Sink
	interval time.Duration
}

// NewGate creates a battery gate reporting through sink.
func NewGate(battery *Battery, sink status.Sink, interval time.Duration) *Gate {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Gate{battery: battery, sink: sink, interval: interval}
}

// Wait returns immediately when the battery check passes. Otherwise it
// moves the status to low battery and polls until capacity reaches the
// minimum (or the override appears), then moves back to running. It only
// fails when ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	if g.battery.OK() {
		return nil
	}

	capacity := g.battery.Capacity()
	slog.Warn("battery_low", "capacity", capacity, "required", g.battery.cfg.MinPercent)
	status.SetLowBattery(g.sink, strconv.Itoa(capacity))

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for capacity < g.battery.cfg.MinPercent && !g.battery.NoBattery() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		capacity = g.battery.Capacity()
		status.SetBatteryText(g.sink, strconv.Itoa(capacity))
		slog.Debug("battery_polled", "capacity", capacity)
	}

	slog.Info("battery_recovered", "capacity", capacity)
	status.SetRunning(g.sink)
	return nil
}
