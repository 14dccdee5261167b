package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sandiman184/e-raport/internal/config"
	"github.com/Sandiman184/e-raport/internal/db"
	apperrors "github.com/Sandiman184/e-raport/internal/errors"
	"github.com/Sandiman184/e-raport/internal/manifest"
	"github.com/Sandiman184/e-raport/internal/storage"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <file-or-snapshot>",
	Short: "Check that a database file is an intact SQLite database",
	Long: `Run the same structural check used before a snapshot is published or a
restore replaces the live store. The argument is a path, or the name of a
snapshot in the backup directory; snapshots with a manifest also have their
checksum compared.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, snapshot, err := locate(args[0])
		if err != nil {
			return err
		}

		res := db.NewVerifier().Verify(cmd.Context(), path)
		if !res.OK {
			return apperrors.New(apperrors.TypeInvalidBackup, fmt.Sprintf("%s: %s", args[0], res.Message), apperrors.ErrInvalidBackup.Hint)
		}

		if snapshot {
			m, err := manifest.Read(path)
			if err != nil {
				return err
			}
			if m != nil {
				if err := m.VerifyFile(path); err != nil {
					return apperrors.Wrap(err, apperrors.TypeInvalidBackup, args[0]+": checksum mismatch", apperrors.ErrInvalidBackup.Hint)
				}
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d tables)\n", args[0], res.Tables)
		return nil
	},
}

// locate prefers an existing path and falls back to a snapshot name.
func locate(arg string) (string, bool, error) {
	if _, err := os.Stat(arg); err == nil {
		return arg, false, nil
	}
	store := storage.NewSnapshotStore(config.GetConfig().BackupDir)
	path, err := store.Resolve(arg)
	if err != nil {
		return "", false, err
	}
	return path, true, nil
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
