package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sandiman184/e-raport/internal/config"
	"github.com/Sandiman184/e-raport/internal/db"
	"github.com/Sandiman184/e-raport/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the live store or bring its schema up to date",
	Long: `Apply the embedded schema migrations to the live store, creating the file
when it does not exist. Running it again is a no-op.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		path := config.GetConfig().StorePath

		if err := db.Migrate(cmd.Context(), path); err != nil {
			return err
		}

		version, dirty, err := db.SchemaVersion(cmd.Context(), path)
		if err != nil {
			return err
		}
		l.Info("Store migrated", "path", path, "version", version, "dirty", dirty)
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
