// Package transfer downloads artifacts to local files, resuming from whatever
// is already on disk.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/eon-neos/neosupdater/pkg/errors"
	"github.com/eon-neos/neosupdater/pkg/storage"
	"github.com/spf13/afero"
)

// DefaultMaxAttempts is the number of non-progressing attempts allowed.
const DefaultMaxAttempts = 4

// ErrGaveUp is returned when every allowed attempt failed without progress.
var ErrGaveUp = fmt.Errorf("transfer: retry budget exhausted")

// ProgressFunc receives the fraction of the object held locally.
type ProgressFunc func(fraction float64)

// Transfer fetches URLs into local files with range-resumed retries.
type Transfer struct {
	fs          afero.Fs
	getter      storage.Getter
	maxAttempts int
	progress    ProgressFunc
}

// New creates a Transfer. maxAttempts <= 0 selects DefaultMaxAttempts.
func New(fs afero.Fs, getter storage.Getter, maxAttempts int) *Transfer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Transfer{fs: fs, getter: getter, maxAttempts: maxAttempts}
}

// OnProgress installs the progress callback. It is called from the
// transferring goroutine whenever the object size is known.
func (t *Transfer) OnProgress(fn ProgressFunc) {
	t.progress = fn
}

// Fetch downloads url into dest, appending to any bytes already present.
// It returns nil on success, ErrGaveUp once the retry budget is spent, and
// the context's error when ctx is done.
//
// An attempt that fails without growing the file consumes one unit of the
// retry budget; an attempt that made progress does not, so a flaky but
// moving transfer keeps going. A "range not satisfiable" answer means the
// file is already complete and counts as success. Cancellation never spends
// the budget and leaves the partial file for the next run to resume.
func (t *Transfer) Fetch(ctx context.Context, url, dest string) error {
	f, err := t.fs.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		slog.Error("transfer_open_failed", "dest", dest, "error", err)
		return errors.Wrap(err, "failed to open destination")
	}
	defer f.Close()

	lastResumeFrom, err := size(f)
	if err != nil {
		slog.Error("transfer_stat_failed", "dest", dest, "error", err)
		return errors.Wrap(err, "failed to stat destination")
	}

	tries := t.maxAttempts
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			slog.Info("transfer_cancelled", "url", url, "attempts", attempt, "resume_from", lastResumeFrom)
			return err
		}

		resumeFrom, err := size(f)
		if err != nil {
			slog.Error("transfer_stat_failed", "dest", dest, "error", err)
			return errors.Wrap(err, "failed to stat destination")
		}
		attempt++

		err = t.getter.Get(ctx, url, resumeFrom, f, t.report)
		switch {
		case err == nil:
			slog.Info("transfer_complete", "url", url, "attempt", attempt, "resume_from", resumeFrom)
			return nil
		case errors.Is(err, storage.ErrRangeNotSatisfiable):
			slog.Info("transfer_already_complete", "url", url, "attempt", attempt, "resume_from", resumeFrom)
			return nil
		case ctx.Err() != nil:
			slog.Info("transfer_cancelled", "url", url, "attempt", attempt, "resume_from", resumeFrom)
			return ctx.Err()
		}

		slog.Warn("transfer_attempt_failed", "url", url, "attempt", attempt, "resume_from", resumeFrom, "error", err)

		if resumeFrom == lastResumeFrom {
			tries--
			if tries <= 0 {
				slog.Error("transfer_gave_up", "url", url, "attempts", attempt, "resume_from", resumeFrom)
				return ErrGaveUp
			}
		}
		lastResumeFrom = resumeFrom
	}
}

func (t *Transfer) report(done, total int64) {
	if t.progress != nil && total > 0 {
		t.progress(float64(done) / float64(total))
	}
}

func size(f afero.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}
