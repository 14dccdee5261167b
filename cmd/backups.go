package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sandiman184/e-raport/internal/lifecycle"
	"github.com/Sandiman184/e-raport/internal/logger"
)

var (
	backupsJSON   bool
	backupsYear   string
	deleteConfirm string
)

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List snapshots in the backup directory",
	Long: `List every snapshot in the backup directory, newest first.
Use --year to show only snapshots scoped to one academic year.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		mgr, _, err := openManager(cmd, false)
		if err != nil {
			return err
		}

		snaps, err := mgr.ListSnapshots(cmd.Context())
		if err != nil {
			return err
		}

		if backupsYear != "" {
			kept := snaps[:0]
			for _, s := range snaps {
				if s.Year == backupsYear {
					kept = append(kept, s)
				}
			}
			snaps = kept
		}

		if backupsJSON {
			return printJSON(cmd, snaps)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-20s %-10s %-11s %s\n", "CREATED AT", "SIZE", "YEAR", "FILE")
		fmt.Fprintln(out, strings.Repeat("-", 85))
		for _, s := range snaps {
			year := s.Year
			if year == "" {
				year = "full"
			}
			fmt.Fprintf(out, "%-20s %-10s %-11s %s\n",
				s.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				humanSize(s.Size),
				year,
				s.Name,
			)
		}

		if len(snaps) == 0 {
			l.Info("No backups found.", "location", mgr.Store().Location())
		} else {
			l.Debug("Backups listed", "count", len(snaps))
		}
		return nil
	},
}

var backupsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a snapshot and its manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		confirm := deleteConfirm
		if confirm == "" {
			answer, err := promptToken(cmd, "delete "+name, lifecycle.ConfirmPrune)
			if err != nil {
				return err
			}
			confirm = answer
		}
		if !strings.EqualFold(confirm, lifecycle.ConfirmPrune) {
			return fmt.Errorf("aborted: %s was not deleted", name)
		}

		mgr, _, err := openManager(cmd, false)
		if err != nil {
			return err
		}

		found, err := mgr.DeleteSnapshot(cmd.Context(), name, cliActor())
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("backup %q not found", name)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backupsCmd)
	backupsCmd.AddCommand(backupsDeleteCmd)

	backupsCmd.Flags().BoolVar(&backupsJSON, "json", false, "print snapshots as JSON")
	backupsCmd.Flags().StringVar(&backupsYear, "year", "", "only list snapshots of this academic year")

	backupsDeleteCmd.Flags().StringVar(&deleteConfirm, "confirm", "", "confirmation token (YES); prompts when omitted")
	addActorFlag(backupsDeleteCmd)
}
