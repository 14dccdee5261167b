package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sandiman184/e-raport/internal/audit"
	"github.com/Sandiman184/e-raport/internal/logger"
)

var (
	auditLimit   int
	auditJournal bool
	auditVerify  bool
	auditJSON    bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit log of destructive operations",
	Long: `Show the newest entries of the audit_logs table in the live store.

--journal reads the hash-chained journal in the backup directory instead, which
also holds entries from before the last restore. --verify checks that chain.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		mgr, _, err := openManager(cmd, false)
		if err != nil {
			return err
		}
		log := mgr.Audit()

		if auditVerify {
			j := log.Journal()
			n, err := j.Verify()
			if err != nil {
				l.Error("Audit journal is broken", "path", j.Path(), "error", err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Audit journal intact: %d entries (%s)\n", n, j.Path())
			return nil
		}

		var entries []audit.Entry
		if auditJournal {
			entries, err = log.Journal().Entries()
			if err == nil && auditLimit > 0 && len(entries) > auditLimit {
				entries = entries[len(entries)-auditLimit:]
			}
		} else {
			entries, err = log.List(cmd.Context(), auditLimit)
		}
		if err != nil {
			return err
		}

		if auditJSON {
			return printJSON(cmd, entries)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-20s %-15s %-8s %-10s %-16s %s\n", "TIME", "ACTION", "STATUS", "ACTOR", "TARGET", "DETAIL")
		fmt.Fprintln(out, strings.Repeat("-", 100))
		for _, e := range entries {
			actor := "system"
			if e.ActorID != nil {
				actor = fmt.Sprintf("user:%d", *e.ActorID)
			}
			fmt.Fprintf(out, "%-20s %-15s %-8s %-10s %-16s %s\n",
				e.Timestamp.Local().Format("2006-01-02 15:04:05"),
				e.Action,
				e.Status,
				actor,
				e.Target,
				e.Detail,
			)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "number of entries to show")
	auditCmd.Flags().BoolVar(&auditJournal, "journal", false, "read the journal instead of the live store")
	auditCmd.Flags().BoolVar(&auditVerify, "verify", false, "verify the journal hash chain")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "print entries as JSON")
}
