package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/spf13/afero"
)

func sha(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 7)
	}
	return b
}

// countingFs records how many bytes were read through files it opened.
type countingFs struct {
	afero.Fs
	read int64
}

type countingFile struct {
	afero.File
	fs *countingFs
}

func (c *countingFs) Open(name string) (afero.File, error) {
	f, err := c.Fs.Open(name)
	if err != nil {
		return nil, err
	}
	return &countingFile{File: f, fs: c}, nil
}

func (f *countingFile) Read(p []byte) (int, error) {
	n, err := f.File.Read(p)
	f.fs.read += int64(n)
	return n, err
}

func TestSum_WholeFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := payload(3*ChunkSize + 17)
	afero.WriteFile(fs, "/data/neoupdate/ota.zip", data, 0644)

	got := New(fs).Sum("/data/neoupdate/ota.zip", 0)
	if got != sha(data) {
		t.Errorf("Sum() = %s, want %s", got, sha(data))
	}
}

func TestSum_LimitMatchesPrefix(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		limit int64
	}{
		{"limit inside first chunk", 20000, 100},
		{"limit on chunk boundary", 20000, ChunkSize},
		{"limit spanning chunks", 20000, ChunkSize*2 + 5},
		{"limit equals size", 20000, 20000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := afero.NewMemMapFs()
			data := payload(tt.size)
			afero.WriteFile(base, "/dev/recovery", data, 0644)
			afero.WriteFile(base, "/prefix", data[:tt.limit], 0644)

			fs := &countingFs{Fs: base}
			h := New(fs)

			limited := h.Sum("/dev/recovery", tt.limit)
			if fs.read > tt.limit {
				t.Errorf("read %d bytes, limit was %d", fs.read, tt.limit)
			}

			full := h.Sum("/prefix", 0)
			if limited != full {
				t.Errorf("limited hash %s != prefix hash %s", limited, full)
			}
		})
	}
}

func TestSum_LimitBeyondEOF(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := payload(1000)
	afero.WriteFile(fs, "/img", data, 0644)

	if got := New(fs).Sum("/img", 5000); got != sha(data) {
		t.Errorf("short device should hash what is readable: got %s", got)
	}
}

func TestSum_MissingFile(t *testing.T) {
	if got := New(afero.NewMemMapFs()).Sum("/nope", 0); got != "" {
		t.Errorf("expected empty digest for missing file, got %q", got)
	}
}

func TestSum_EmptyFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/empty", nil, 0644)

	if got := New(fs).Sum("/empty", 0); got != sha(nil) {
		t.Errorf("empty file hash = %s", got)
	}
}
