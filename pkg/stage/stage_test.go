package stage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

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

const (
	manifestURL = "https://updates.example.com/update.json"
	otaURL      = "https://updates.example.com/ota-signed-1.zip"
	recoveryURL = "https://updates.example.com/recovery-1.img"
	device      = "/dev/block/recovery"
)

func sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// fakeServer serves objects by URL with range semantics and records every request.
type fakeServer struct {
	mu       sync.Mutex
	objects  map[string][]byte
	requests []string

	// cancelOn cancels the run's context when url is requested.
	cancelOn string
	cancel   context.CancelFunc
}

func (f *fakeServer) Get(ctx context.Context, url string, offset int64, w io.Writer, progress storage.ProgressFunc) error {
	f.mu.Lock()
	f.requests = append(f.requests, url)
	body, ok := f.objects[url]
	cancelOn, cancel := f.cancelOn, f.cancel
	f.mu.Unlock()
	if url == cancelOn && cancel != nil {
		cancel()
		return ctx.Err()
	}
	if !ok {
		return &storage.StatusError{StatusCode: 404, URL: url}
	}
	if offset >= int64(len(body)) {
		return storage.ErrRangeNotSatisfiable
	}
	w.Write(body[offset:])
	if progress != nil {
		progress(int64(len(body)), int64(len(body)))
	}
	return nil
}

func (f *fakeServer) artifactRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, u := range f.requests {
		if u != manifestURL {
			out = append(out, u)
		}
	}
	return out
}

type fakeLedger struct {
	records []*db.Artifact
}

func (l *fakeLedger) RecordArtifact(_ context.Context, a *db.Artifact) error {
	l.records = append(l.records, a)
	return nil
}

type fixture struct {
	fs     afero.Fs
	server *fakeServer
	store  *status.Store
	ledger *fakeLedger
	stage  *Stage
	free   uint64
}

func newFixture(t *testing.T, m manifest.Manifest, objects map[string][]byte) *fixture {
	t.Helper()
	doc, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	objs := map[string][]byte{manifestURL: doc}
	for k, v := range objects {
		objs[k] = v
	}

	f := &fixture{
		fs:     afero.NewMemMapFs(),
		server: &fakeServer{objects: objs},
		store:  status.NewStore(status.StateRunning),
		ledger: &fakeLedger{},
		free:   10 << 30,
	}
	f.stage = New(Config{
		ManifestURL:    manifestURL,
		UpdateDir:      "/data/neoupdate",
		SpaceCheckPath: "/data/",
		RecoveryDevice: device,
	}, Deps{
		Fs:        f.fs,
		Hasher:    hasher.New(f.fs),
		Transfer:  transfer.New(f.fs, f.server, 0),
		Manifests: manifest.NewClient(f.server, nil),
		Space:     preflight.NewSpaceChecker(func(string) (uint64, error) { return f.free, nil }, 0),
		Sink:      f.store,
		Ledger:    f.ledger,
	})
	return f
}

func TestRun_OTAOnlySkipsRecovery(t *testing.T) {
	ota := []byte(strings.Repeat("ota-", 5000))
	f := newFixture(t, manifest.Manifest{OTAURL: otaURL, OTAHash: sum(ota)}, map[string][]byte{otaURL: ota})

	res, err := f.stage.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Recovery != nil {
		t.Error("recovery should be skipped")
	}
	if !res.OTA.Verified || res.OTA.LocalPath != "/data/neoupdate/ota-signed-1.zip" {
		t.Errorf("unexpected ota artifact %+v", res.OTA)
	}
	if reqs := f.server.artifactRequests(); len(reqs) != 1 || reqs[0] != otaURL {
		t.Errorf("artifact requests = %v, want only %s", reqs, otaURL)
	}
	got, _ := afero.ReadFile(f.fs, res.OTA.LocalPath)
	if sum(got) != sum(ota) {
		t.Error("staged file does not match")
	}
	if s := f.store.Snapshot(); s.ProgressText != "Verifying update..." {
		t.Errorf("unexpected final status %+v", s)
	}
}

func TestRun_RecoveryAlreadyFlashed(t *testing.T) {
	ota := []byte("ota image")
	rec := []byte(strings.Repeat("R", 4096))
	f := newFixture(t, manifest.Manifest{
		OTAURL: otaURL, OTAHash: sum(ota),
		RecoveryURL: recoveryURL, RecoveryHash: sum(rec), RecoveryLen: int64(len(rec)),
	}, map[string][]byte{otaURL: ota, recoveryURL: rec})

	// The partition is larger than the image; only recovery_len bytes count.
	afero.WriteFile(f.fs, device, append(append([]byte{}, rec...), make([]byte, 8192)...), 0644)

	res, err := f.stage.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Recovery != nil {
		t.Error("recovery matching the live partition should not be staged")
	}
	if reqs := f.server.artifactRequests(); len(reqs) != 1 || reqs[0] != otaURL {
		t.Errorf("artifact requests = %v", reqs)
	}
}

func TestRun_StagesRecovery(t *testing.T) {
	ota := []byte("ota image")
	rec := []byte(strings.Repeat("N", 4096))
	f := newFixture(t, manifest.Manifest{
		OTAURL: otaURL, OTAHash: sum(ota),
		RecoveryURL: recoveryURL, RecoveryHash: sum(rec), RecoveryLen: int64(len(rec)),
	}, map[string][]byte{otaURL: ota, recoveryURL: rec})
	afero.WriteFile(f.fs, device, make([]byte, 8192), 0644)

	res, err := f.stage.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Recovery == nil || !res.Recovery.Verified || res.Recovery.LocalPath != "/data/neoupdate/recovery-1.img" {
		t.Fatalf("unexpected recovery artifact %+v", res.Recovery)
	}
	if reqs := f.server.artifactRequests(); len(reqs) != 2 || reqs[0] != recoveryURL || reqs[1] != otaURL {
		t.Errorf("artifact requests = %v, want recovery then ota", reqs)
	}
}

func TestRun_CorruptedByteIsRestaged(t *testing.T) {
	ota := []byte(strings.Repeat("0123456789", 2000))
	f := newFixture(t, manifest.Manifest{OTAURL: otaURL, OTAHash: sum(ota)}, map[string][]byte{otaURL: ota})

	res, err := f.stage.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	corrupted, _ := afero.ReadFile(f.fs, res.OTA.LocalPath)
	corrupted[len(corrupted)/2] ^= 0xff
	afero.WriteFile(f.fs, res.OTA.LocalPath, corrupted, 0644)

	res, err = f.stage.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	got, _ := afero.ReadFile(f.fs, res.OTA.LocalPath)
	if sum(got) != sum(ota) {
		t.Error("restaged file should verify")
	}
	if n := len(f.server.artifactRequests()); n != 3 {
		t.Errorf("artifact requests = %d, want 3 (initial, resume, restage)", n)
	}
}

func TestRun_CorruptDownload(t *testing.T) {
	ota := []byte("tampered ota image")
	f := newFixture(t, manifest.Manifest{OTAURL: otaURL, OTAHash: sum([]byte("real ota image"))}, map[string][]byte{otaURL: ota})

	_, err := f.stage.Run(context.Background(), false)
	if !errors.Is(err, errors.KindIntegrity) || errors.Message(err) != "update was corrupt" {
		t.Fatalf("expected integrity error, got %v", err)
	}
	if exists, _ := afero.Exists(f.fs, "/data/neoupdate/ota-signed-1.zip"); exists {
		t.Error("corrupt file should be deleted")
	}
	last := f.ledger.records[len(f.ledger.records)-1]
	if last.Status != db.StatusCorrupt {
		t.Errorf("ledger status = %q, want corrupt", last.Status)
	}
}

func TestRun_DownloadFailure(t *testing.T) {
	f := newFixture(t, manifest.Manifest{OTAURL: otaURL, OTAHash: sum([]byte("x"))}, nil)

	_, err := f.stage.Run(context.Background(), false)
	if !errors.Is(err, errors.KindTransfer) || errors.Message(err) != "failed to download update" {
		t.Fatalf("expected transfer error, got %v", err)
	}
	if exists, _ := afero.Exists(f.fs, "/data/neoupdate/ota-signed-1.zip"); exists {
		t.Error("partial file should be deleted")
	}
	if n := len(f.server.artifactRequests()); n != transfer.DefaultMaxAttempts {
		t.Errorf("requests = %d, want %d", n, transfer.DefaultMaxAttempts)
	}
}

func TestRun_InterruptedDownloadKeepsPartialFile(t *testing.T) {
	ota := []byte(strings.Repeat("z", 100000))
	f := newFixture(t, manifest.Manifest{OTAURL: otaURL, OTAHash: sum(ota)}, map[string][]byte{otaURL: ota})
	partial := "/data/neoupdate/ota-signed-1.zip"
	afero.WriteFile(f.fs, partial, ota[:60000], 0644)

	ctx, cancel := context.WithCancel(context.Background())
	f.server.cancelOn, f.server.cancel = otaURL, cancel

	_, err := f.stage.Run(ctx, false)
	if !errors.Interrupted(err) {
		t.Fatalf("expected interruption, got %v", err)
	}
	if errors.Is(err, errors.KindTransfer) {
		t.Error("interruption must not be reported as a failed download")
	}
	got, _ := afero.ReadFile(f.fs, partial)
	if len(got) != 60000 {
		t.Errorf("partial file has %d bytes, want 60000", len(got))
	}
	if n := len(f.server.artifactRequests()); n != 1 {
		t.Errorf("artifact requests = %d, want 1", n)
	}
	for _, r := range f.ledger.records {
		if r.Status == db.StatusFailed {
			t.Error("interrupted download must not be recorded as failed")
		}
	}

	// The next run resumes from the kept bytes.
	f.server.cancelOn, f.server.cancel = "", nil
	res, err := f.stage.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("resumed Run failed: %v", err)
	}
	if !res.OTA.Verified {
		t.Error("resumed artifact should verify")
	}
}

func TestRun_ManifestWithOnlyOTAFields(t *testing.T) {
	f := newFixture(t, manifest.Manifest{OTAURL: "u1", OTAHash: "h1"}, map[string][]byte{"u1": []byte("ota")})

	_, err := f.stage.Run(context.Background(), false)
	if !errors.Is(err, errors.KindIntegrity) || errors.Message(err) != "update was corrupt" {
		t.Fatalf("expected integrity error, got %v", err)
	}
	got := f.server.artifactRequests()
	if len(got) != 1 || got[0] != "u1" {
		t.Errorf("artifact requests = %v, want [u1]", got)
	}
}

func TestRun_InsufficientSpace(t *testing.T) {
	for _, dryRun := range []bool{false, true} {
		f := newFixture(t, manifest.Manifest{OTAURL: otaURL, OTAHash: sum([]byte("x"))}, nil)
		f.free = 2000000000

		_, err := f.stage.Run(context.Background(), dryRun)
		if !errors.Is(err, errors.KindSpace) || errors.Message(err) != "2GB of free space required to update" {
			t.Errorf("dryRun=%v: expected space error, got %v", dryRun, err)
		}
		if len(f.server.requests) != 0 {
			t.Errorf("dryRun=%v: no requests expected, got %v", dryRun, f.server.requests)
		}
	}
}

func TestRun_DryRun(t *testing.T) {
	ota := []byte("ota image")
	rec := []byte(strings.Repeat("N", 4096))
	m := manifest.Manifest{
		OTAURL: otaURL, OTAHash: sum(ota),
		RecoveryURL: recoveryURL, RecoveryHash: sum(rec), RecoveryLen: int64(len(rec)),
	}

	tests := []struct {
		name    string
		setup   func(fs afero.Fs)
		wantErr bool
	}{
		{
			name: "everything staged",
			setup: func(fs afero.Fs) {
				afero.WriteFile(fs, "/data/neoupdate/ota-signed-1.zip", ota, 0644)
				afero.WriteFile(fs, "/data/neoupdate/recovery-1.img", rec, 0644)
			},
		},
		{
			name: "recovery already flashed",
			setup: func(fs afero.Fs) {
				afero.WriteFile(fs, "/data/neoupdate/ota-signed-1.zip", ota, 0644)
				afero.WriteFile(fs, device, rec, 0644)
			},
		},
		{
			name: "ota missing",
			setup: func(fs afero.Fs) {
				afero.WriteFile(fs, "/data/neoupdate/recovery-1.img", rec, 0644)
			},
			wantErr: true,
		},
		{
			name: "ota partial",
			setup: func(fs afero.Fs) {
				afero.WriteFile(fs, "/data/neoupdate/ota-signed-1.zip", ota[:3], 0644)
				afero.WriteFile(fs, "/data/neoupdate/recovery-1.img", rec, 0644)
			},
			wantErr: true,
		},
		{
			name: "recovery missing",
			setup: func(fs afero.Fs) {
				afero.WriteFile(fs, "/data/neoupdate/ota-signed-1.zip", ota, 0644)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, m, map[string][]byte{otaURL: ota, recoveryURL: rec})
			tt.setup(f.fs)

			_, err := f.stage.Run(context.Background(), true)
			if tt.wantErr {
				if !errors.Is(err, errors.KindNotStaged) {
					t.Errorf("expected not staged error, got %v", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if reqs := f.server.artifactRequests(); len(reqs) != 0 {
				t.Errorf("dry run must not transfer artifacts, requested %v", reqs)
			}
			if ok, _ := afero.Exists(f.fs, "/data/neoupdate/ota-signed-1.zip"); tt.name == "ota partial" && !ok {
				t.Error("dry run must not delete partial files")
			}
		})
	}
}

func TestRun_ManifestFailure(t *testing.T) {
	f := newFixture(t, manifest.Manifest{}, nil)
	f.server.objects[manifestURL] = []byte(fmt.Sprintf(`{"ota_url":"%s"}`, otaURL))

	_, err := f.stage.Run(context.Background(), false)
	if !errors.Is(err, errors.KindManifest) || errors.Message(err) != "invalid update manifest" {
		t.Fatalf("expected manifest error, got %v", err)
	}
}
