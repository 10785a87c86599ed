//go:build linux

package flash

import (
	"log/slog"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// BlockDeviceSize returns the size of a block device via BLKGETSIZE64, or -1
// when path is not a block device.
func BlockDeviceSize(path string) int64 {
	f, err := os.Open(path)
	if err != nil {
		return -1
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil || fi.Mode()&os.ModeDevice == 0 || fi.Mode()&os.ModeCharDevice != 0 {
		return -1
	}

	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		slog.Warn("blkgetsize64_failed", "device", path, "error", errno)
		return -1
	}
	return int64(size)
}
