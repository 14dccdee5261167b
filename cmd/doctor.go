package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sandiman184/e-raport/internal/config"
	"github.com/Sandiman184/e-raport/internal/db"
	"github.com/Sandiman184/e-raport/internal/lifecycle"
	"github.com/Sandiman184/e-raport/internal/logger"
)

type check struct {
	name string
	run  func(ctx context.Context, cfg *config.Config) (string, error)
}

var doctorChecks = []check{
	{"Live store", checkStore},
	{"Schema", checkSchema},
	{"Backup directory", checkBackupDir},
	{"Audit journal", checkJournal},
	{"Offsite mirror", checkMirror},
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the live store, backup directory and mirror",
	Long: `Run read-only health checks: the live store exists and passes an integrity
check, its schema is migrated, the backup directory is writable, the audit
journal chain is intact and the offsite mirror (if configured) is reachable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		l.Info("eraport doctor", "os", runtime.GOOS, "arch", runtime.GOARCH)

		cfg := config.GetConfig()
		out := cmd.OutOrStdout()
		failed := 0
		for _, c := range doctorChecks {
			msg, err := c.run(cmd.Context(), cfg)
			if err != nil {
				fmt.Fprintf(out, "  [ ] %-17s: %v\n", c.name, err)
				failed++
				continue
			}
			fmt.Fprintf(out, "  [x] %-17s: %s\n", c.name, msg)
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d checks failed", failed, len(doctorChecks))
		}
		fmt.Fprintln(out, "All checks passed.")
		return nil
	},
}

func checkStore(ctx context.Context, cfg *config.Config) (string, error) {
	if err := db.Exists(cfg.StorePath); err != nil {
		return "", err
	}
	res := db.NewVerifier().Verify(ctx, cfg.StorePath)
	if !res.OK {
		return "", fmt.Errorf("%s", res.Message)
	}
	return fmt.Sprintf("%s ok (%d tables)", cfg.StorePath, res.Tables), nil
}

func checkSchema(ctx context.Context, cfg *config.Config) (string, error) {
	version, dirty, err := db.SchemaVersion(ctx, cfg.StorePath)
	if err != nil {
		return "", fmt.Errorf("%w (run eraport migrate)", err)
	}
	if dirty {
		return "", fmt.Errorf("version %d is dirty", version)
	}
	return fmt.Sprintf("version %d", version), nil
}

func checkBackupDir(_ context.Context, cfg *config.Config) (string, error) {
	if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
		return "", err
	}
	probe := filepath.Join(cfg.BackupDir, ".doctor_check")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return "", fmt.Errorf("not writable: %w", err)
	}
	_ = os.Remove(probe)
	return cfg.BackupDir + " writable", nil
}

func checkJournal(_ context.Context, cfg *config.Config) (string, error) {
	mgr, err := lifecycle.FromConfig(cfg, logger.Nop(), nil)
	if err != nil {
		return "", err
	}
	n, err := mgr.Audit().Journal().Verify()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d entries, chain intact", n), nil
}

func checkMirror(ctx context.Context, cfg *config.Config) (string, error) {
	mirror, err := lifecycle.MirrorFromConfig(cfg.Mirror.S3)
	if err != nil {
		return "", err
	}
	if mirror == nil {
		return "not configured", nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	if err := mirror.Ping(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s reachable in %s", mirror.Location(), time.Since(start).Truncate(time.Millisecond)), nil
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
