package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Sandiman184/e-raport/internal/lifecycle"
)

var (
	analyzeYear string
	analyzeAll  bool
	analyzeJSON bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Preview what a prune or reset would delete",
	Long: `Count the rows a prune of one academic year (--year) or a full reset (--all)
would delete. Nothing is modified.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (analyzeYear == "") == !analyzeAll {
			return fmt.Errorf("exactly one of --year or --all is required")
		}

		mgr, _, err := openManager(cmd, false)
		if err != nil {
			return err
		}

		rep, err := mgr.Analyze(cmd.Context(), analyzeYear)
		if err != nil {
			return err
		}
		if analyzeJSON {
			return printJSON(cmd, rep)
		}
		printImpact(cmd, rep)
		return nil
	},
}

func printImpact(cmd *cobra.Command, rep *lifecycle.ImpactReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scope: %s\n", rep.Scope)

	tables := make([]string, 0, len(rep.Counts))
	for t := range rep.Counts {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		fmt.Fprintf(out, "  %-16s %d\n", t, rep.Counts[t])
	}

	fmt.Fprintf(out, "Total: %d rows, risk %s\n", rep.Total, rep.Risk)
	for _, d := range rep.Details {
		fmt.Fprintf(out, "  - %s\n", d)
	}
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVar(&analyzeYear, "year", "", "academic year to analyze for a prune, e.g. 2024/2025")
	analyzeCmd.Flags().BoolVar(&analyzeAll, "all", false, "analyze a full reset")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the report as JSON")
	analyzeCmd.MarkFlagsMutuallyExclusive("year", "all")
}
