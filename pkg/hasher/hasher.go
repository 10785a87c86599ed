// Package hasher computes streaming SHA-256 digests of staged files and raw
// block devices.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"

	"github.com/spf13/afero"
)

// ChunkSize is the read size used while hashing.
const ChunkSize = 8192

// Hasher hashes files through an afero filesystem so the same code path
// serves regular files, block devices and in-memory test fixtures.
type Hasher struct {
	fs afero.Fs
}

// New creates a Hasher backed by fs. A nil fs means the OS filesystem.
func New(fs afero.Fs) *Hasher {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Hasher{fs: fs}
}

// Sum returns the lowercase hex SHA-256 of the first limit bytes of path, or
// of the whole file when limit <= 0. It never stats the target: reading
// stops at the limit or at EOF, so devices hash exactly like files.
// An empty string means the target could not be read and never matches.
func (h *Hasher) Sum(path string, limit int64) string {
	f, err := h.fs.Open(path)
	if err != nil {
		slog.Debug("hash_open_failed", "path", path, "error", err)
		return ""
	}
	defer f.Close()

	digest := sha256.New()
	buf := make([]byte, ChunkSize)
	remaining := limit

	for {
		readSize := len(buf)
		if limit > 0 && remaining < int64(readSize) {
			readSize = int(remaining)
		}

		n, err := f.Read(buf[:readSize])
		if n > 0 {
			digest.Write(buf[:n])
			if limit > 0 {
				remaining -= int64(n)
				if remaining == 0 {
					break
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Warn("hash_read_failed", "path", path, "error", err)
			return ""
		}
		if n == 0 {
			break
		}
	}

	return hex.EncodeToString(digest.Sum(nil))
}
