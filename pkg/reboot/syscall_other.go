//go:build !linux

package reboot

import (
	"context"
	"fmt"
	"runtime"
)

// SyscallRebooter is unsupported off Linux.
type SyscallRebooter struct{}

func (SyscallRebooter) Reboot(ctx context.Context) error {
	return fmt.Errorf("reboot syscall not supported on %s", runtime.GOOS)
}
