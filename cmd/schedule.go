package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sandiman184/e-raport/internal/config"
	"github.com/Sandiman184/e-raport/internal/lifecycle"
	"github.com/Sandiman184/e-raport/internal/logger"
	"github.com/Sandiman184/e-raport/internal/scheduler"
)

// snapshotJob is the name of the periodic snapshot-and-retention job.
const snapshotJob = "snapshot"

var (
	retries    int
	retryDelay time.Duration
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect and trigger the periodic snapshot job",
	Long: `The periodic snapshot job is configured with schedule.cron (a cron
expression, an @descriptor or a duration such as "24h") and runs inside
"eraport serve". Each run takes a scheduled snapshot and then applies the
retention policy.`,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the configured job and its last outcome",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		mgr, _, err := openManager(cmd, false)
		if err != nil {
			return err
		}
		s, err := newScheduler(l, mgr)
		if err != nil {
			return err
		}

		jobs := s.Jobs()
		if len(jobs) == 0 {
			l.Info("No schedule configured (set schedule.cron)")
			return nil
		}

		s.Start()
		defer s.Stop()
		for _, j := range s.Jobs() {
			last, next := "never", "N/A"
			if j.LastRun != nil {
				last = j.LastRun.Local().Format("2006-01-02 15:04:05")
			}
			if j.NextRun != nil {
				next = j.NextRun.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tschedule=%q status=%s last_run=%s next_run=%s\n",
				j.Name, j.Schedule, j.Status, last, next)
			if j.LastError != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "\tlast_error=%s\n", j.LastError)
			}
		}
		return nil
	},
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the snapshot job once, now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())

		mgr, _, err := openManager(cmd, false)
		if err != nil {
			return err
		}
		s, err := newScheduler(l, mgr)
		if err != nil {
			return err
		}
		if len(s.Jobs()) == 0 {
			// An unscheduled one-off run still goes through the job machinery
			// so its outcome is persisted.
			if err := s.Add(snapshotJob, "@yearly", snapshotRunner(mgr)); err != nil {
				return err
			}
		}
		return s.RunNow(cmd.Context(), snapshotJob)
	},
}

// newScheduler registers the snapshot job when schedule.cron is set and
// restores its last outcome from the backup directory.
func newScheduler(l *logger.Logger, mgr *lifecycle.Manager) (*scheduler.Scheduler, error) {
	cfg := config.GetConfig()
	s := scheduler.New(scheduler.Options{
		Logger:     l,
		StateDir:   cfg.BackupDir,
		Retries:    retries,
		RetryDelay: retryDelay,
	})
	if cfg.Schedule.Cron != "" {
		if err := s.Add(snapshotJob, cfg.Schedule.Cron, snapshotRunner(mgr)); err != nil {
			return nil, err
		}
	}
	if err := s.Load(); err != nil {
		l.Warn("Could not read schedule state", "error", err)
	}
	return s, nil
}

func snapshotRunner(mgr *lifecycle.Manager) scheduler.Runner {
	return scheduler.RunnerFunc(func(ctx context.Context) error {
		return mgr.ScheduledSnapshot(ctx, config.GetConfig().Schedule.Description)
	})
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleRunCmd)

	for _, c := range []*cobra.Command{scheduleRunCmd, serveCmd} {
		c.Flags().IntVar(&retries, "retries", 2, "number of retries when a scheduled run fails")
		c.Flags().DurationVar(&retryDelay, "retry-delay", time.Minute, "delay between retries")
	}
}
