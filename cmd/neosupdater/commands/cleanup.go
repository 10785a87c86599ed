package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/eon-neos/neosupdater/internal/config"
	"github.com/eon-neos/neosupdater/pkg/db"
	"github.com/eon-neos/neosupdater/pkg/errors"
)

var (
	cleanupAll      bool
	cleanupName     string
	cleanupOrphaned bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove staged artifacts from the update directory",
	Long: `Remove staged files from the update directory:
  --all              Remove every artifact tracked in the ledger
  --name <file>      Remove one artifact and forget it in the ledger
  --orphaned         Remove files in the update directory the ledger does not track`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Remove all artifacts")
	cleanupCmd.Flags().StringVar(&cleanupName, "name", "", "Remove a specific artifact by file name and drop its ledger row")
	cleanupCmd.Flags().BoolVar(&cleanupOrphaned, "orphaned", false, "Remove untracked files")
	cleanupCmd.MarkFlagsMutuallyExclusive("all", "name", "orphaned")
}

// artifactStore is the part of the ledger cleanup uses.
type artifactStore interface {
	ListArtifacts(ctx context.Context) ([]*db.Artifact, error)
	GetArtifact(ctx context.Context, name string) (*db.Artifact, error)
	UpdateArtifactStatus(ctx context.Context, name, status, errorMessage string) error
	DeleteArtifact(ctx context.Context, name string) error
}

func runCleanup(cmd *cobra.Command, args []string) error {
	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	ctx := cmd.Context()

	switch {
	case cleanupAll:
		return cleanupAllArtifacts(ctx, repo)
	case cleanupName != "":
		return cleanupArtifact(ctx, repo, cleanupName)
	case cleanupOrphaned:
		_, err := cleanupOrphanedFiles(ctx, repo, cfg)
		return err
	default:
		return fmt.Errorf("must specify --all, --name, or --orphaned")
	}
}

func cleanupAllArtifacts(ctx context.Context, repo artifactStore) error {
	artifacts, err := repo.ListArtifacts(ctx)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	fmt.Printf("Cleaning up %d artifacts...\n", len(artifacts))

	for _, a := range artifacts {
		if err := removeArtifact(ctx, repo, a); err != nil {
			fmt.Printf("Failed to clean %s: %v\n", a.Name, err)
		} else {
			fmt.Printf("Cleaned: %s\n", a.Name)
		}
	}

	return nil
}

func cleanupArtifact(ctx context.Context, repo artifactStore, name string) error {
	a, err := repo.GetArtifact(ctx, name)
	if err != nil {
		return errors.Wrap(err, "lookup failed")
	}
	if a == nil {
		return fmt.Errorf("artifact not found: %s", name)
	}

	if err := removeStagedFile(a); err != nil {
		return errors.Wrap(err, "cleanup failed")
	}
	if err := repo.DeleteArtifact(ctx, a.Name); err != nil {
		return errors.Wrap(err, "failed to delete ledger row")
	}

	fmt.Printf("Removed: %s\n", name)
	return nil
}

// removeArtifact deletes the staged file and keeps the row as cleaned.
func removeArtifact(ctx context.Context, repo artifactStore, a *db.Artifact) error {
	if err := removeStagedFile(a); err != nil {
		return err
	}
	return repo.UpdateArtifactStatus(ctx, a.Name, db.StatusCleaned, "")
}

func removeStagedFile(a *db.Artifact) error {
	if a.LocalPath == "" {
		return nil
	}
	if err := os.Remove(a.LocalPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove staged file")
	}
	return nil
}

// cleanupOrphanedFiles removes regular files in the update directory that
// the ledger does not track, leaving the updater's own state in place.
func cleanupOrphanedFiles(ctx context.Context, repo artifactStore, cfg *config.Config) (int, error) {
	fmt.Println("Scanning for orphaned files...")

	keep := map[string]bool{}
	for _, p := range []string{cfg.SQLitePath, cfg.SQLitePath + "-wal", cfg.SQLitePath + "-shm", cfg.SQLitePath + "-journal", cfg.LogFile, cfg.FSMDBPath} {
		if p != "" {
			keep[filepath.Clean(p)] = true
		}
	}

	entries, err := os.ReadDir(cfg.UpdateDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("Removed 0 orphaned files")
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to read update directory")
	}

	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(cfg.UpdateDir, entry.Name())
		if keep[filepath.Clean(path)] {
			continue
		}

		a, err := repo.GetArtifact(ctx, entry.Name())
		if err != nil {
			return removed, errors.Wrap(err, "lookup failed")
		}
		if a != nil && a.Status != db.StatusCleaned {
			continue
		}

		if err := os.Remove(path); err != nil {
			fmt.Printf("Failed to remove orphaned file %s: %v\n", entry.Name(), err)
			continue
		}
		fmt.Printf("Removed orphaned file: %s\n", entry.Name())
		removed++
	}

	fmt.Printf("Removed %d orphaned files\n", removed)
	return removed, nil
}
