package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sandiman184/e-raport/internal/backup"
	"github.com/Sandiman184/e-raport/internal/db"
	"github.com/Sandiman184/e-raport/internal/logger"
)

var (
	backupYear        string
	backupDescription string
	noProgress        bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a verified snapshot of the live store",
	Long: `Create a snapshot of the live store in the backup directory.

The copy is taken under a read transaction, verified with an integrity check
and only then published. With --year the snapshot keeps only the rows of that
academic year (plus all reference data). If an offsite mirror is configured
the snapshot is uploaded afterwards; a failed upload is reported as a warning.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		if backupYear != "" {
			y, err := db.ParseYear(backupYear)
			if err != nil {
				return err
			}
			backupYear = y
		}

		mgr, p, err := openManager(cmd, !noProgress)
		if err != nil {
			return err
		}

		l.Info("Backup started", "year", backupYear, "description", backupDescription)
		start := time.Now()

		built, err := mgr.CreateSnapshot(cmd.Context(), backup.BuildOptions{
			Description: backupDescription,
			Year:        backupYear,
			Trigger:     backup.TriggerManual,
		})
		if p != nil {
			p.Wait()
		}
		if err != nil {
			l.Error("Backup failed", "error", err)
			return err
		}

		l.Info("Backup finished", "name", built.Name, "duration", time.Since(start).String())
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", built.Name, humanSize(built.Size))
		printWarnings(cmd, built.Warnings)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.Flags().StringVar(&backupYear, "year", "", "academic year to keep, e.g. 2024/2025 (default: full copy)")
	backupCmd.Flags().StringVarP(&backupDescription, "description", "d", "", "free-form description, slugged into the file name")
	backupCmd.Flags().BoolVar(&noProgress, "no-progress", false, "do not draw a progress bar")
}
