package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/complyscan/internal/scheduler"
)

// scheduleCmd represents the schedule command.
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run compliance scans periodically",
	Long: `Run the scan command on a cron schedule until interrupted.
The cron expression follows standard cron format (minute hour day month
weekday) or a descriptor such as @daily. A failed run is logged and the
next run still happens on schedule.`,
	Example: `  complyscan schedule
  complyscan schedule --cron "0 3 * * *"
  complyscan schedule --cron "@every 12h" --obfuscate`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().String("cron", "", "cron expression (default from config, @daily)")
	bindFlags(viper.GetViper(), scheduleCmd.Flags(), map[string]string{"schedule.cron": "cron"})
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	orch, err := a.orchestrator()
	if err != nil {
		return err
	}

	job := func(ctx context.Context) error {
		artifact, err := orch.Run(ctx)
		a.flushMetrics()
		if err != nil {
			return err
		}
		a.logger.Info("Compliance results ready", "path", artifact.Path, "content_type", artifact.ContentType)
		return nil
	}

	s, err := scheduler.NewScheduler(cfg.Schedule.Cron, job, a.logger)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}
