// Package stage implements the download stage: preflight space check,
// manifest retrieval and verified staging of the recovery and OTA images.
package stage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/eon-neos/neosupdater/pkg/db"
	"github.com/eon-neos/neosupdater/pkg/errors"
	"github.com/eon-neos/neosupdater/pkg/hasher"
	"github.com/eon-neos/neosupdater/pkg/manifest"
	"github.com/eon-neos/neosupdater/pkg/preflight"
	"github.com/eon-neos/neosupdater/pkg/status"
	"github.com/eon-neos/neosupdater/pkg/storage"
	"github.com/eon-neos/neosupdater/pkg/transfer"
	"github.com/spf13/afero"
)

// Display names used in progress and error texts.
const (
	NameRecovery = "recovery"
	NameOTA      = "update"
)

// Ledger records artifact state. Failures to record are logged only.
type Ledger interface {
	RecordArtifact(ctx context.Context, a *db.Artifact) error
}

// Config holds the paths the stage works against.
type Config struct {
	ManifestURL    string
	UpdateDir      string
	SpaceCheckPath string
	RecoveryDevice string
}

// Deps are the collaborators of a Stage. Sink and Ledger may be nil.
type Deps struct {
	Fs        afero.Fs
	Hasher    *hasher.Hasher
	Transfer  *transfer.Transfer
	Manifests *manifest.Client
	Space     *preflight.SpaceChecker
	Sink      status.Sink
	Ledger    Ledger
}

// Artifact is a file staged in the update directory.
type Artifact struct {
	// Name is the display name ("recovery" or "update").
	Name         string
	URL          string
	LocalPath    string
	ExpectedHash string
	Verified     bool
}

// Result is what a successful run staged. Recovery is nil when the manifest
// has no recovery image or the live partition already matches it.
type Result struct {
	Manifest *manifest.Manifest
	OTA      *Artifact
	Recovery *Artifact
}

// Stage stages update artifacts.
type Stage struct {
	cfg       Config
	fs        afero.Fs
	hasher    *hasher.Hasher
	transfer  *transfer.Transfer
	manifests *manifest.Client
	space     *preflight.SpaceChecker
	sink      status.Sink
	ledger    Ledger
}

// New creates a Stage. Transfer progress is forwarded to the sink.
func New(cfg Config, deps Deps) *Stage {
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.Hasher == nil {
		deps.Hasher = hasher.New(deps.Fs)
	}
	s := &Stage{
		cfg:       cfg,
		fs:        deps.Fs,
		hasher:    deps.Hasher,
		transfer:  deps.Transfer,
		manifests: deps.Manifests,
		space:     deps.Space,
		sink:      deps.Sink,
		ledger:    deps.Ledger,
	}
	if s.transfer != nil && s.sink != nil {
		s.transfer.OnProgress(func(f float64) { status.SetFraction(s.sink, f) })
	}
	return s
}

// Run executes the stage. A dry run transfers nothing: it succeeds only if
// every required artifact is already on disk with a matching hash, and
// otherwise fails with a not-staged error. The space check runs either way.
func (s *Stage) Run(ctx context.Context, dryRun bool) (*Result, error) {
	slog.Info("download_stage_started", "manifest_url", s.cfg.ManifestURL, "dry_run", dryRun)

	if !s.space.HasSufficientSpace(s.cfg.SpaceCheckPath) {
		return nil, errors.Space("2GB of free space required to update", nil)
	}

	if err := s.fs.MkdirAll(s.cfg.UpdateDir, 0777); err != nil {
		slog.Warn("update_dir_create_failed", "update_dir", s.cfg.UpdateDir, "error", err)
	}

	status.SetProgress(s.sink, "Finding latest version...")
	m, err := s.manifests.Fetch(ctx, s.cfg.ManifestURL)
	if err != nil {
		return nil, err
	}

	result := &Result{Manifest: m}

	if !m.HasRecovery() {
		status.SetProgress(s.sink, "Skipping recovery flash...")
	} else {
		status.SetProgress(s.sink, "Checking recovery...")
		existing := s.hasher.Sum(s.cfg.RecoveryDevice, m.RecoveryLen)
		slog.Info("recovery_checked", "device", s.cfg.RecoveryDevice, "existing_hash", existing, "expected_hash", m.RecoveryHash)

		if existing != m.RecoveryHash {
			a, err := s.stage(ctx, db.KindRecovery, NameRecovery, m.RecoveryURL, m.RecoveryHash, dryRun)
			if err != nil {
				return nil, err
			}
			result.Recovery = a
		}
	}

	a, err := s.stage(ctx, db.KindOTA, NameOTA, m.OTAURL, m.OTAHash, dryRun)
	if err != nil {
		return nil, err
	}
	result.OTA = a

	slog.Info("download_stage_complete",
		"dry_run", dryRun,
		"ota_path", result.OTA.LocalPath,
		"flash_recovery", result.Recovery != nil)
	return result, nil
}

func (s *Stage) stage(ctx context.Context, kind, name, url, hash string, dryRun bool) (*Artifact, error) {
	a := &Artifact{
		Name:         name,
		URL:          url,
		LocalPath:    filepath.Join(s.cfg.UpdateDir, storage.BaseName(url)),
		ExpectedHash: hash,
	}

	got := s.hasher.Sum(a.LocalPath, 0)

	if dryRun {
		if got != hash {
			slog.Info("artifact_not_staged", "name", name, "path", a.LocalPath)
			return nil, errors.NotStaged(name+" is not staged", nil)
		}
		a.Verified = true
		return a, nil
	}

	if got != hash {
		s.record(ctx, kind, a, db.StatusDownloading, "")

		resumed := s.size(a.LocalPath) > 0
		if err := s.fetch(ctx, kind, a); err != nil {
			return nil, err
		}
		got = s.hasher.Sum(a.LocalPath, 0)

		// Bytes from an earlier attempt can be complete but wrong; start over once.
		if got != hash && resumed {
			slog.Warn("artifact_restaging", "name", name, "path", a.LocalPath, "got_hash", got)
			s.fs.Remove(a.LocalPath)
			if err := s.fetch(ctx, kind, a); err != nil {
				return nil, err
			}
			got = s.hasher.Sum(a.LocalPath, 0)
		}
	}

	status.SetProgress(s.sink, "Verifying "+name+"...")
	slog.Info("artifact_verifying", "name", name, "expected_hash", hash, "got_hash", got)

	if got != hash {
		msg := name + " was corrupt"
		s.fs.Remove(a.LocalPath)
		s.record(ctx, kind, a, db.StatusCorrupt, msg)
		return nil, errors.Integrity(msg, nil)
	}

	a.Verified = true
	s.record(ctx, kind, a, db.StatusVerified, "")
	return a, nil
}

func (s *Stage) fetch(ctx context.Context, kind string, a *Artifact) error {
	status.SetProgress(s.sink, "Downloading "+a.Name+"...")
	slog.Info("download_started", "name", a.Name, "url", a.URL, "dest", a.LocalPath)

	err := s.transfer.Fetch(ctx, a.URL, a.LocalPath)
	switch {
	case err == nil:
		return nil
	case errors.Interrupted(err):
		// The partial file stays for the next run to resume.
		slog.Warn("download_interrupted", "name", a.Name, "dest", a.LocalPath, "bytes", s.size(a.LocalPath))
		return errors.Wrap(err, "download of "+a.Name+" interrupted")
	}

	msg := "failed to download " + a.Name
	s.fs.Remove(a.LocalPath)
	s.record(ctx, kind, a, db.StatusFailed, msg)
	return errors.Transfer(msg, err)
}

func (s *Stage) size(path string) int64 {
	fi, err := s.fs.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("artifact_stat_failed", "path", path, "error", err)
		}
		return 0
	}
	return fi.Size()
}

func (s *Stage) record(ctx context.Context, kind string, a *Artifact, st, msg string) {
	if s.ledger == nil {
		return
	}
	rec := &db.Artifact{
		Name:         filepath.Base(a.LocalPath),
		Kind:         kind,
		URL:          a.URL,
		SHA256:       a.ExpectedHash,
		LocalPath:    a.LocalPath,
		SizeBytes:    s.size(a.LocalPath),
		Status:       st,
		ErrorMessage: msg,
	}
	if err := s.ledger.RecordArtifact(ctx, rec); err != nil {
		slog.Warn("ledger_record_failed", "name", rec.Name, "status", st, "error", err)
	}
}
