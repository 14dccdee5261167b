package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var estimateJSON bool

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate snapshot size and duration, in total and per academic year",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := openManager(cmd, false)
		if err != nil {
			return err
		}

		est, err := mgr.Estimate(cmd.Context())
		if err != nil {
			return err
		}
		if estimateJSON {
			return printJSON(cmd, est)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Full snapshot: %s, ~%s (%s)\n", humanSize(est.FullBytes), est.FullDuration, est.Label)
		if len(est.Years) == 0 {
			return nil
		}
		fmt.Fprintf(out, "\n%-11s %-8s %-10s %s\n", "YEAR", "ROWS", "SIZE", "DURATION")
		for _, y := range est.Years {
			fmt.Fprintf(out, "%-11s %-8d %-10s %s\n", y.Year, y.Rows, humanSize(y.Bytes), y.Duration)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(estimateCmd)
	estimateCmd.Flags().BoolVar(&estimateJSON, "json", false, "print the estimate as JSON")
}
