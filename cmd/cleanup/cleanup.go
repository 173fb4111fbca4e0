// Package cleanup provides the command that removes stale files from the
// upload staging area.
package cleanup

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/florai/contrib-pipeline/internal/conf"
	"github.com/florai/contrib-pipeline/internal/diskmanager"
	"github.com/florai/contrib-pipeline/internal/securefs"
)

// Command creates the cleanup command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		olderThan time.Duration
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale files from the upload staging area",
		Long: `Delete staged uploads older than the given age. A running server sweeps
staging on its own; this command is for servers with the sweep disabled
or for cleaning up after a crash.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("older-than") {
				olderThan = settings.Contribution.StagingMaxAge
			}
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			staging, err := securefs.New(settings.Storage.StagingDir)
			if err != nil {
				return fmt.Errorf("error opening staging directory: %w", err)
			}
			defer func() { _ = staging.Close() }()

			files, err := diskmanager.GetStagedFiles(cmd.Context(), staging.FS())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dryRun {
				cutoff := time.Now().Add(-olderThan)
				for _, f := range files {
					if f.ModTime.Before(cutoff) {
						fmt.Fprintf(out, "would remove %s (%d bytes, modified %s)\n",
							f.Path, f.Size, f.ModTime.Format(time.RFC3339))
					}
				}
				return nil
			}

			res, err := diskmanager.AgeBasedCleanup(cmd.Context(), staging, files, olderThan, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "scanned %d files, removed %d, freed %d bytes\n", res.Scanned, res.Deleted, res.FreedBytes)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Minimum age of removed files (default contribution.staging_max_age)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List the files that would be removed")

	return cmd
}
