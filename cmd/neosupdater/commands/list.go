package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eon-neos/neosupdater/pkg/db"
	"github.com/eon-neos/neosupdater/pkg/errors"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List staged artifacts and their status",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	// Ensure database directory exists
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	artifacts, err := repo.ListArtifacts(cmd.Context())
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(artifacts) == 0 {
		fmt.Println("No artifacts found")
		return nil
	}

	fmt.Printf("%-44s %-9s %-12s %-10s %-20s\n", "NAME", "KIND", "STATUS", "SIZE", "UPDATED")
	fmt.Println("------------------------------------------------------------------------------------------------")

	for _, a := range artifacts {
		size := "-"
		if a.SizeBytes > 0 {
			size = humanize.Bytes(uint64(a.SizeBytes))
		}
		fmt.Printf("%-44s %-9s %-12s %-10s %-20s\n", a.Name, a.Kind, a.Status, size, a.UpdatedAt)
		if a.ErrorMessage != "" {
			fmt.Printf("    error: %s\n", a.ErrorMessage)
		}
	}

	return nil
}
