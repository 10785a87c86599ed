// Package preflight holds the checks that gate an update: free space on the
// staging volume and battery state.
package preflight

import (
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
)

// DefaultMinFreeSpace is the free space, in bytes, that must be exceeded.
const DefaultMinFreeSpace uint64 = 2000000000

// UsageFunc returns the bytes available to unprivileged writers at path.
type UsageFunc func(path string) (uint64, error)

// SpaceChecker checks available space on a volume.
type SpaceChecker struct {
	usage UsageFunc
	min   uint64
}

// NewSpaceChecker creates a checker. A nil usage reads the volume through
// gopsutil; min == 0 selects DefaultMinFreeSpace.
func NewSpaceChecker(usage UsageFunc, min uint64) *SpaceChecker {
	if usage == nil {
		usage = diskFree
	}
	if min == 0 {
		min = DefaultMinFreeSpace
	}
	return &SpaceChecker{usage: usage, min: min}
}

func diskFree(path string) (uint64, error) {
	u, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return u.Free, nil
}

// HasSufficientSpace reports whether strictly more than the minimum is
// available at path. An unreadable volume has no space.
func (c *SpaceChecker) HasSufficientSpace(path string) bool {
	free, err := c.usage(path)
	if err != nil {
		slog.Error("space_check_failed", "path", path, "error", err)
		return false
	}
	ok := free > c.min
	slog.Info("space_checked",
		"path", path,
		"free", humanize.Bytes(free),
		"required", humanize.Bytes(c.min),
		"ok", ok)
	return ok
}
