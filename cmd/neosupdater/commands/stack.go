package commands

import (
	"context"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/eon-neos/neosupdater/internal/config"
	"github.com/eon-neos/neosupdater/pkg/hasher"
	"github.com/eon-neos/neosupdater/pkg/manifest"
	"github.com/eon-neos/neosupdater/pkg/preflight"
	"github.com/eon-neos/neosupdater/pkg/security"
	"github.com/eon-neos/neosupdater/pkg/stage"
	"github.com/eon-neos/neosupdater/pkg/status"
	"github.com/eon-neos/neosupdater/pkg/storage"
	"github.com/eon-neos/neosupdater/pkg/transfer"
)

// newGetter routes http(s) URLs to a plain client and s3:// URLs to an
// anonymous S3 client. S3 is optional; without it s3:// URLs fail per request.
func newGetter(ctx context.Context, cfg *config.Config) storage.Getter {
	httpGetter := storage.NewHTTPGetter(nil, cfg.UserAgent)

	var s3Getter storage.Getter
	if g, err := storage.NewS3Getter(ctx, cfg.S3Region); err != nil {
		slog.Warn("s3_unavailable", "error", err)
	} else {
		s3Getter = g
	}

	return storage.NewRouter(httpGetter, s3Getter)
}

// newStage assembles the download stage for manifestURL. sink and ledger may
// be nil.
func newStage(ctx context.Context, cfg *config.Config, fs afero.Fs, manifestURL string, sink status.Sink, ledger stage.Ledger) *stage.Stage {
	getter := newGetter(ctx, cfg)

	return stage.New(stage.Config{
		ManifestURL:    manifestURL,
		UpdateDir:      cfg.UpdateDir,
		SpaceCheckPath: cfg.SpaceCheckPath,
		RecoveryDevice: cfg.RecoveryDevice,
	}, stage.Deps{
		Fs:        fs,
		Hasher:    hasher.New(fs),
		Transfer:  transfer.New(fs, getter, cfg.TransferMaxAttempts),
		Manifests: manifest.NewClient(getter, security.NewValidator(cfg.MaxRecoveryLen)),
		Space:     preflight.NewSpaceChecker(nil, cfg.MinFreeSpace),
		Sink:      sink,
		Ledger:    ledger,
	})
}

func newBattery(cfg *config.Config, fs afero.Fs) *preflight.Battery {
	return preflight.NewBattery(fs, preflight.BatteryConfig{
		CapacityPath:       cfg.BatteryCapacityPath,
		CurrentPath:        cfg.BatteryCurrentPath,
		NoBatteryPath:      cfg.NoBatteryFlagPath,
		MinPercent:         cfg.BatteryMinPercent,
		ChargingMinPercent: cfg.BatteryChargingMinPercent,
	})
}
