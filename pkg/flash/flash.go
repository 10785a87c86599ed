// Package flash writes a staged recovery image to the raw recovery partition
// and verifies what landed on the device.
package flash

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/eon-neos/neosupdater/pkg/errors"
	"github.com/eon-neos/neosupdater/pkg/hasher"
	"github.com/eon-neos/neosupdater/pkg/status"
	"github.com/spf13/afero"
)

// ChunkSize is the copy unit for partition writes.
const ChunkSize = 4096

const msgFailed = "failed to flash recovery"

// CapacityFunc returns the size of a block device in bytes, or -1 when the
// size cannot be determined.
type CapacityFunc func(device string) int64

// Flasher copies images onto the recovery device.
type Flasher struct {
	fs       afero.Fs
	hasher   *hasher.Hasher
	device   string
	sink     status.Sink
	capacity CapacityFunc
}

// New creates a Flasher for device. A nil fs uses the OS filesystem and
// the platform block device size lookup.
func New(fs afero.Fs, h *hasher.Hasher, device string, sink status.Sink) *Flasher {
	capacity := CapacityFunc(func(string) int64 { return -1 })
	if fs == nil {
		fs = afero.NewOsFs()
		capacity = BlockDeviceSize
	}
	if h == nil {
		h = hasher.New(fs)
	}
	return &Flasher{fs: fs, hasher: h, device: device, sink: sink, capacity: capacity}
}

// WithCapacity overrides the device size lookup.
func (f *Flasher) WithCapacity(fn CapacityFunc) *Flasher {
	f.capacity = fn
	return f
}

// Flash writes staged to the device, then re-hashes the first length bytes
// of the device and requires them to equal hash. Success is only reported
// after that check; a completed copy alone is not enough.
func (f *Flasher) Flash(ctx context.Context, staged, hash string, length int64) error {
	if err := ctx.Err(); err != nil {
		return errors.Flash(msgFailed, err)
	}

	status.SetProgress(f.sink, "Flashing recovery...")
	slog.Info("flash_started", "image", staged, "device", f.device, "recovery_len", length)

	src, err := f.fs.Open(staged)
	if err != nil {
		slog.Error("flash_open_image_failed", "image", staged, "error", err)
		return errors.Flash(msgFailed, err)
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return errors.Flash(msgFailed, err)
	}
	if capacity := f.capacity(f.device); capacity >= 0 && fi.Size() > capacity {
		slog.Error("flash_image_too_large",
			"image_size", humanize.Bytes(uint64(fi.Size())),
			"partition_size", humanize.Bytes(uint64(capacity)))
		return errors.Flash(msgFailed, fmt.Errorf("image is %d bytes, partition is %d bytes", fi.Size(), capacity))
	}

	dst, err := f.fs.OpenFile(f.device, os.O_RDWR, 0)
	if err != nil {
		slog.Error("flash_open_device_failed", "device", f.device, "error", err)
		return errors.Flash(msgFailed, err)
	}

	written, err := copyChunks(dst, src)
	if err != nil {
		dst.Close()
		slog.Error("flash_write_failed", "device", f.device, "written", written, "error", err)
		return errors.Flash(msgFailed+": write failed", err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		slog.Error("flash_sync_failed", "device", f.device, "error", err)
		return errors.Flash(msgFailed, err)
	}
	if err := dst.Close(); err != nil {
		return errors.Flash(msgFailed, err)
	}

	slog.Info("flash_written", "device", f.device, "bytes", humanize.Bytes(uint64(written)))

	status.SetProgress(f.sink, "Verifying flash...")
	got := f.hasher.Sum(f.device, length)
	if got != hash {
		slog.Error("flash_verify_failed", "device", f.device, "expected_hash", hash, "got_hash", got)
		return errors.Integrity("recovery flash corrupted", nil)
	}

	slog.Info("flash_verified", "device", f.device, "hash", got)
	return nil
}

// copyChunks copies src to dst ChunkSize bytes at a time and stops at the
// first write that does not take the whole chunk.
func copyChunks(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, ChunkSize)
	var total int64
	for {
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			total += int64(w)
			if werr != nil {
				return total, werr
			}
			if w != n {
				return total, io.ErrShortWrite
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}
