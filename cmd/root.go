package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"

	"github.com/Sandiman184/e-raport/internal/audit"
	"github.com/Sandiman184/e-raport/internal/backup"
	"github.com/Sandiman184/e-raport/internal/config"
	"github.com/Sandiman184/e-raport/internal/lifecycle"
	"github.com/Sandiman184/e-raport/internal/logger"
)

var (
	configPath string
	LogJSON    bool
	NoColor    bool
	LogLevel   string
	actorID    int64
)

var rootCmd = &cobra.Command{
	Use:   "eraport",
	Short: "eraport manages the lifecycle of the e-raport grade store",
	Long: `eraport takes verified snapshots of the e-raport SQLite store, restores them,
prunes a finished academic year and resets student data.

Every destructive operation is previewed, needs an explicit confirmation token,
takes a safety snapshot first and is recorded in the audit log.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(configPath); err != nil {
			return err
		}
		cfg := config.GetConfig()

		if !cmd.Flags().Changed("log-json") {
			LogJSON = cfg.LogJSON
		}
		if !cmd.Flags().Changed("no-color") {
			NoColor = cfg.NoColor
		}
		if !cmd.Flags().Changed("log-level") {
			LogLevel = cfg.LogLevel
		}

		l := logger.New(logger.Config{
			Writer:  cmd.ErrOrStderr(),
			JSON:    LogJSON,
			NoColor: NoColor,
			Level:   logger.ParseLevel(LogLevel),
		})
		cmd.SetContext(logger.WithContext(cmd.Context(), l))
		return nil
	},
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("eraport version {{ .Version }}\n")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./eraport.yaml or ~/.eraport/eraport.yaml)")
	rootCmd.PersistentFlags().BoolVar(&LogJSON, "log-json", false, "emit logs as JSON")
	rootCmd.PersistentFlags().BoolVar(&NoColor, "no-color", false, "disable colored log output")
	rootCmd.PersistentFlags().StringVar(&LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func Execute() error {
	return rootCmd.Execute()
}

// openManager wires a lifecycle manager from the loaded configuration. A
// progress container is attached when withProgress is set; callers must Wait
// on it once the operation returns.
func openManager(cmd *cobra.Command, withProgress bool) (*lifecycle.Manager, *mpb.Progress, error) {
	var p *mpb.Progress
	if withProgress {
		p = backup.NewProgressContainer(cmd.ErrOrStderr())
	}
	mgr, err := lifecycle.FromConfig(config.GetConfig(), logger.FromContext(cmd.Context()), p)
	if err != nil {
		return nil, nil, err
	}
	return mgr, p, nil
}

// cliActor is the operator named by --actor, or the system actor.
func cliActor() audit.Actor {
	if actorID > 0 {
		return audit.UserActor(actorID, "")
	}
	return audit.System
}

func addActorFlag(c *cobra.Command) {
	c.Flags().Int64Var(&actorID, "actor", 0, "user id recorded in the audit log (0 records the system)")
}

// promptToken asks the operator to type token and returns what they typed.
func promptToken(cmd *cobra.Command, action, token string) (string, error) {
	fmt.Fprintf(cmd.OutOrStdout(), "Type %s to %s: ", token, action)
	return readLine(cmd.InOrStdin())
}

func readLine(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	if sc.Scan() {
		return strings.TrimSpace(sc.Text()), nil
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.2f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

func printWarnings(cmd *cobra.Command, warnings []string) {
	for _, w := range warnings {
		fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", w)
	}
}
