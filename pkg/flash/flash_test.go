package flash

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"

	"github.com/eon-neos/neosupdater/pkg/errors"
	"github.com/eon-neos/neosupdater/pkg/hasher"
	"github.com/eon-neos/neosupdater/pkg/status"
	"github.com/spf13/afero"
)

const (
	device = "/dev/block/recovery"
	image  = "/data/neoupdate/recovery.img"
)

func sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// shortWriteFs hands out device files that accept only limit bytes in total.
type shortWriteFs struct {
	afero.Fs
	limit int
}

func (s *shortWriteFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	f, err := s.Fs.OpenFile(name, flag, perm)
	if err != nil || name != device {
		return f, err
	}
	return &shortWriteFile{File: f, remaining: s.limit}, nil
}

type shortWriteFile struct {
	afero.File
	remaining int
}

func (f *shortWriteFile) Write(p []byte) (int, error) {
	if len(p) > f.remaining {
		n, err := f.File.Write(p[:f.remaining])
		f.remaining = 0
		return n, err
	}
	f.remaining -= len(p)
	return f.File.Write(p)
}

// corruptingFs flips the first byte of every write to the device.
type corruptingFs struct {
	afero.Fs
}

func (c *corruptingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	f, err := c.Fs.OpenFile(name, flag, perm)
	if err != nil || name != device {
		return f, err
	}
	return &corruptingFile{File: f}, nil
}

type corruptingFile struct {
	afero.File
}

func (f *corruptingFile) Write(p []byte) (int, error) {
	q := append([]byte{}, p...)
	q[0] ^= 0xff
	return f.File.Write(q)
}

func setup(t *testing.T, img []byte, partition int) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, image, img, 0644)
	afero.WriteFile(fs, device, make([]byte, partition), 0600)
	return fs
}

func TestFlash(t *testing.T) {
	img := bytes.Repeat([]byte("recovery"), 3000) // not a multiple of ChunkSize
	base := setup(t, img, 64*1024)
	store := status.NewStore(status.StateRunning)

	f := New(base, hasher.New(base), device, store)
	if err := f.Flash(context.Background(), image, sum(img), int64(len(img))); err != nil {
		t.Fatalf("Flash failed: %v", err)
	}

	got, _ := afero.ReadFile(base, device)
	if len(got) != 64*1024 {
		t.Errorf("device size changed to %d", len(got))
	}
	if !bytes.Equal(got[:len(img)], img) {
		t.Error("device does not hold the image")
	}
	if s := store.Snapshot(); s.ProgressText != "Verifying flash..." {
		t.Errorf("progress = %q", s.ProgressText)
	}
}

func TestFlash_ShortWrite(t *testing.T) {
	img := bytes.Repeat([]byte{0xab}, 5*ChunkSize)
	base := setup(t, img, 8*ChunkSize)
	fs := &shortWriteFs{Fs: base, limit: 2*ChunkSize + 100}

	err := New(fs, hasher.New(base), device, nil).Flash(context.Background(), image, sum(img), int64(len(img)))
	if !errors.Is(err, errors.KindFlash) {
		t.Fatalf("expected flash error, got %v", err)
	}
	if errors.Message(err) != "failed to flash recovery: write failed" {
		t.Errorf("message = %q", errors.Message(err))
	}
}

func TestFlash_VerifyMismatch(t *testing.T) {
	img := bytes.Repeat([]byte{0x11}, 3*ChunkSize)
	base := setup(t, img, 4*ChunkSize)
	fs := &corruptingFs{Fs: base}

	err := New(fs, hasher.New(base), device, nil).Flash(context.Background(), image, sum(img), int64(len(img)))
	if !errors.Is(err, errors.KindIntegrity) || errors.Message(err) != "recovery flash corrupted" {
		t.Fatalf("expected corrupted flash, got %v", err)
	}
}

func TestFlash_WrongExpectedHash(t *testing.T) {
	img := []byte("image bytes")
	base := setup(t, img, ChunkSize)

	err := New(base, hasher.New(base), device, nil).Flash(context.Background(), image, sum([]byte("other")), int64(len(img)))
	if !errors.Is(err, errors.KindIntegrity) {
		t.Fatalf("a completed copy must not count as success, got %v", err)
	}
}

func TestFlash_ImageLargerThanPartition(t *testing.T) {
	img := bytes.Repeat([]byte{1}, 2*ChunkSize)
	base := setup(t, img, ChunkSize)

	f := New(base, hasher.New(base), device, nil).WithCapacity(func(string) int64 { return ChunkSize })
	err := f.Flash(context.Background(), image, sum(img), int64(len(img)))
	if !errors.Is(err, errors.KindFlash) || errors.Message(err) != "failed to flash recovery" {
		t.Fatalf("expected flash error, got %v", err)
	}
	got, _ := afero.ReadFile(base, device)
	if !bytes.Equal(got, make([]byte, ChunkSize)) {
		t.Error("device must be untouched")
	}
}

func TestFlash_MissingImage(t *testing.T) {
	base := afero.NewMemMapFs()
	afero.WriteFile(base, device, make([]byte, ChunkSize), 0600)

	err := New(base, nil, device, nil).Flash(context.Background(), image, sum(nil), 1)
	if !errors.Is(err, errors.KindFlash) {
		t.Fatalf("expected flash error, got %v", err)
	}
}

func TestBlockDeviceSize_RegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "notadevice")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	if got := BlockDeviceSize(f.Name()); got != -1 {
		t.Errorf("BlockDeviceSize(regular file) = %d, want -1", got)
	}
}
