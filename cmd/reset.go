package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sandiman184/e-raport/internal/lifecycle"
	"github.com/Sandiman184/e-raport/internal/logger"
)

var resetConfirm string

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all students with their grades and report records",
	Long: `Delete every student together with all grades and report records.
Subjects, settings, users and the audit log are kept.

The confirmation token is RESET. A safety snapshot is taken first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		mgr, _, err := openManager(cmd, false)
		if err != nil {
			return err
		}

		rep, err := mgr.Analyze(cmd.Context(), "")
		if err != nil {
			return err
		}
		printImpact(cmd, rep)

		confirm := resetConfirm
		if confirm == "" {
			if rep.Total == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No student data to reset.")
				return nil
			}
			if confirm, err = promptToken(cmd, "delete all student data", lifecycle.ConfirmReset); err != nil {
				return err
			}
		}

		res, err := mgr.Reset(cmd.Context(), confirm, cliActor())
		if err != nil {
			l.Error("Reset failed", "error", err)
			return err
		}

		printResult(cmd, res)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().StringVar(&resetConfirm, "confirm", "", "confirmation token (RESET); prompts when omitted")
	addActorFlag(resetCmd)
}
