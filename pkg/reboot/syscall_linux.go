//go:build linux

package reboot

import (
	"context"
	"log/slog"
	"unsafe"

	"github.com/eon-neos/neosupdater/pkg/errors"
	"golang.org/x/sys/unix"
)

// SyscallRebooter syncs filesystems and calls reboot(2) with the
// "recovery" argument. It requires CAP_SYS_BOOT.
type SyscallRebooter struct{}

func (SyscallRebooter) Reboot(ctx context.Context) error {
	unix.Sync()

	arg, err := unix.BytePtrFromString("recovery")
	if err != nil {
		return err
	}
	slog.Info("reboot_syscall", "cmd", "restart2", "arg", "recovery")
	_, _, errno := unix.Syscall6(unix.SYS_REBOOT,
		unix.LINUX_REBOOT_MAGIC1, unix.LINUX_REBOOT_MAGIC2,
		unix.LINUX_REBOOT_CMD_RESTART2, uintptr(unsafe.Pointer(arg)), 0, 0)
	if errno != 0 {
		return errors.Wrap(errno, "reboot syscall failed")
	}
	return nil
}
