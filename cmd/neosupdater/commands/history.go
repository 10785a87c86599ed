package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eon-neos/neosupdater/pkg/db"
	"github.com/eon-neos/neosupdater/pkg/errors"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent update runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	runs, err := repo.ListRuns(cmd.Context(), historyLimit)
	if err != nil {
		return errors.Wrap(err, "history failed")
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	fmt.Printf("%-36s %-12s %-11s %-20s %s\n", "RUN", "MODE", "OUTCOME", "STARTED", "MANIFEST")
	fmt.Println("------------------------------------------------------------------------------------------------")

	for _, r := range runs {
		fmt.Printf("%-36s %-12s %-11s %-20s %s\n", r.ID, r.Mode, r.Outcome, r.StartedAt, r.ManifestURL)
		if r.ErrorMessage != "" {
			fmt.Printf("    error: %s\n", r.ErrorMessage)
		}
	}

	return nil
}
