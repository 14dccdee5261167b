package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sandiman184/e-raport/internal/lifecycle"
	"github.com/Sandiman184/e-raport/internal/logger"
)

var (
	pruneYear    string
	pruneConfirm string
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all grades and report records of one academic year",
	Long: `Delete every grade and report record of one academic year in a single
transaction. Students, subjects and settings are kept.

The impact is printed first. The operation runs only when the confirmation
token YES is given with --confirm or typed at the prompt. A safety snapshot of
the live store is taken before anything is deleted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		if pruneYear == "" {
			return fmt.Errorf("--year is required")
		}

		mgr, _, err := openManager(cmd, false)
		if err != nil {
			return err
		}

		rep, err := mgr.Analyze(cmd.Context(), pruneYear)
		if err != nil {
			return err
		}
		printImpact(cmd, rep)

		confirm := pruneConfirm
		if confirm == "" {
			if rep.Total == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No data for academic year %s.\n", rep.Scope)
				return nil
			}
			if confirm, err = promptToken(cmd, "prune "+rep.Scope, lifecycle.ConfirmPrune); err != nil {
				return err
			}
		}

		res, err := mgr.Prune(cmd.Context(), pruneYear, confirm, cliActor())
		if err != nil {
			l.Error("Prune failed", "year", pruneYear, "error", err)
			return err
		}

		printResult(cmd, res)
		return nil
	},
}

func printResult(cmd *cobra.Command, res *lifecycle.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.Message)
	if res.SafetySnapshot != "" {
		fmt.Fprintf(out, "Safety snapshot: %s\n", res.SafetySnapshot)
	}
	printWarnings(cmd, res.Warnings)
}

func init() {
	rootCmd.AddCommand(pruneCmd)

	pruneCmd.Flags().StringVar(&pruneYear, "year", "", "academic year to prune, e.g. 2024/2025")
	pruneCmd.Flags().StringVar(&pruneConfirm, "confirm", "", "confirmation token (YES); prompts when omitted")
	addActorFlag(pruneCmd)
}
