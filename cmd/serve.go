package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sandiman184/e-raport/internal/api"
	"github.com/Sandiman184/e-raport/internal/config"
	"github.com/Sandiman184/e-raport/internal/db"
	"github.com/Sandiman184/e-raport/internal/logger"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lifecycle HTTP API and the snapshot scheduler",
	Long: `Serve the JSON API used by the e-raport web application.

On startup the live store schema is migrated and temp files left by
interrupted operations are removed. When schedule.cron is set, periodic
snapshots and retention run in the same process. SIGINT or SIGTERM shuts the
server down gracefully.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		l := logger.FromContext(cmd.Context())
		cfg := config.GetConfig()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := db.Migrate(ctx, cfg.StorePath); err != nil {
			return err
		}

		mgr, _, err := openManager(cmd, false)
		if err != nil {
			return err
		}
		if n, err := mgr.Sweep(ctx); err != nil {
			l.Warn("Temp sweep failed", "error", err)
		} else if n > 0 {
			l.Info("Removed leftover temp files", "count", n)
		}

		sched, err := newScheduler(l, mgr)
		if err != nil {
			return err
		}
		sched.Start()
		for _, j := range sched.Jobs() {
			l.Info("Scheduled job registered", "job", j.Name, "schedule", j.Schedule)
		}

		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		srv := api.NewServer(mgr, api.Options{
			Addr:              addr,
			RequestsPerMinute: cfg.Server.RequestsPerMinute,
			MaxUploadBytes:    cfg.MaxUploadBytes,
			ReadTimeout:       cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
			Logger:            l,
		})
		serveErr := srv.ListenAndServe(ctx)

		l.Info("Waiting for scheduled jobs to finish")
		<-sched.Stop().Done()
		if err := sched.Save(); err != nil {
			l.Warn("Could not persist schedule state", "error", err)
		}
		return serveErr
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.addr)")
}
