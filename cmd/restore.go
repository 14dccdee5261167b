package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sandiman184/e-raport/internal/config"
	"github.com/Sandiman184/e-raport/internal/lifecycle"
	"github.com/Sandiman184/e-raport/internal/logger"
)

var (
	restoreName       string
	restoreFile       string
	restoreFromMirror bool
	restoreConfirm    string
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the live store with a snapshot",
	Long: `Replace the live store with a snapshot from the backup directory (--name)
or with a database file from disk (--file).

The candidate is verified before anything is touched, and the current live
store is snapshotted first. With --from-mirror the snapshot named by --name is
downloaded from the offsite mirror instead of the local backup directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		if (restoreName == "") == (restoreFile == "") {
			return fmt.Errorf("exactly one of --name or --file is required")
		}
		if restoreFromMirror && restoreName == "" {
			return fmt.Errorf("--from-mirror needs --name")
		}

		confirm := restoreConfirm
		if confirm == "" {
			answer, err := promptToken(cmd, "replace the live store", lifecycle.ConfirmPrune)
			if err != nil {
				return err
			}
			confirm = answer
		}
		if !strings.EqualFold(confirm, lifecycle.ConfirmPrune) {
			return fmt.Errorf("aborted: confirmation must be %q", lifecycle.ConfirmPrune)
		}

		mgr, p, err := openManager(cmd, true)
		if err != nil {
			return err
		}

		l.Info("Restore started", "name", restoreName, "file", restoreFile, "mirror", restoreFromMirror)
		start := time.Now()

		var res *lifecycle.Result
		switch {
		case restoreFromMirror:
			res, err = restoreFromMirrorCopy(cmd.Context(), mgr, restoreName)
		case restoreName != "":
			res, err = mgr.RestoreSnapshot(cmd.Context(), restoreName, cliActor())
		default:
			res, err = restoreFromFile(cmd.Context(), mgr, restoreFile)
		}
		p.Wait()
		if err != nil {
			l.Error("Restore failed", "error", err)
			return err
		}

		l.Info("Restore finished", "duration", time.Since(start).String())
		fmt.Fprintln(cmd.OutOrStdout(), res.Message)
		if res.SafetySnapshot != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Previous store saved as %s\n", res.SafetySnapshot)
		}
		printWarnings(cmd, res.Warnings)
		return nil
	},
}

func restoreFromFile(ctx context.Context, mgr *lifecycle.Manager, path string) (*lifecycle.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return mgr.RestoreUpload(ctx, f, filepath.Base(path), cliActor())
}

// restoreFromMirrorCopy streams the decoded remote copy straight into the
// upload path, so it is staged and verified like any other upload.
func restoreFromMirrorCopy(ctx context.Context, mgr *lifecycle.Manager, name string) (*lifecycle.Result, error) {
	mirror, err := lifecycle.MirrorFromConfig(config.GetConfig().Mirror.S3)
	if err != nil {
		return nil, err
	}
	if mirror == nil {
		return nil, fmt.Errorf("no offsite mirror configured (set mirror.s3.bucket)")
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := mirror.Fetch(ctx, name, pw)
		pw.CloseWithError(err)
	}()
	defer pr.Close()

	return mgr.RestoreUpload(ctx, pr, name, cliActor())
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().StringVar(&restoreName, "name", "", "snapshot name in the backup directory")
	restoreCmd.Flags().StringVar(&restoreFile, "file", "", "path to a database file to restore")
	restoreCmd.Flags().BoolVar(&restoreFromMirror, "from-mirror", false, "download --name from the offsite mirror")
	restoreCmd.Flags().StringVar(&restoreConfirm, "confirm", "", "confirmation token (YES); prompts when omitted")
	addActorFlag(restoreCmd)
}
