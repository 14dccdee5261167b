package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Sandiman184/e-raport/internal/logger"
)

var gcRetention bool

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove temp files left by interrupted operations",
	Long: `Remove orphaned temp files from the backup directory and the restore
staging file next to the live store. With --retention the configured retention
policy is applied as well.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		mgr, _, err := openManager(cmd, false)
		if err != nil {
			return err
		}

		n, err := mgr.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		l.Info("Temp sweep complete", "removed_files", n)

		if gcRetention {
			removed, err := mgr.ApplyRetention(cmd.Context())
			l.Info("Retention applied", "removed_snapshots", len(removed))
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gcCmd)
	gcCmd.Flags().BoolVar(&gcRetention, "retention", false, "also apply the retention policy")
}
