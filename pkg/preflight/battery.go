package preflight

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// BatteryConfig locates the battery sysfs nodes and sets the thresholds.
type BatteryConfig struct {
	CapacityPath  string
	CurrentPath   string
	NoBatteryPath string
	// MinPercent must be exceeded on battery power.
	MinPercent int
	// ChargingMinPercent must be exceeded while charging.
	ChargingMinPercent int
}

// Battery reads battery state from sysfs-style files.
type Battery struct {
	fs  afero.Fs
	cfg BatteryConfig
}

// NewBattery creates a battery reader. A nil fs reads the real filesystem.
func NewBattery(fs afero.Fs, cfg BatteryConfig) *Battery {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Battery{fs: fs, cfg: cfg}
}

// Capacity returns the charge percentage, or 0 when unreadable.
func (b *Battery) Capacity() int {
	return b.readInt(b.cfg.CapacityPath)
}

// Current returns the instantaneous current. Negative means charging.
func (b *Battery) Current() int {
	return b.readInt(b.cfg.CurrentPath)
}

// NoBattery reports whether the override flag file holds 1.
func (b *Battery) NoBattery() bool {
	if b.cfg.NoBatteryPath == "" {
		return false
	}
	data, err := afero.ReadFile(b.fs, b.cfg.NoBatteryPath)
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	return err == nil && n == 1
}

// OK reports whether an update may proceed on the current battery state.
func (b *Battery) OK() bool {
	if b.NoBattery() {
		return true
	}
	capacity := b.Capacity()
	if capacity > b.cfg.MinPercent {
		return true
	}
	return b.Current() < 0 && capacity > b.cfg.ChargingMinPercent
}

func (b *Battery) readInt(path string) int {
	data, err := afero.ReadFile(b.fs, path)
	if err != nil {
		slog.Warn("battery_read_failed", "path", path, "error", err)
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		slog.Warn("battery_parse_failed", "path", path, "value", strings.TrimSpace(string(data)))
		return 0
	}
	return n
}
