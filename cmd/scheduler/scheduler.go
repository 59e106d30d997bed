// Package scheduler implements the daemon that crawls every stream once a day.
package scheduler

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jonesrussell/north-cloud/traffic-crawler/cmd/common"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/logger"
	"github.com/jonesrussell/north-cloud/traffic-crawler/internal/scheduler"
)

const (
	keyHour   = "scheduler.hour"
	keyMinute = "scheduler.minute"
	keyRunNow = "scheduler.run_now"
)

// Command returns the scheduler command.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Crawl every stream daily at a fixed time",
		Long: `Start a long-running process that triggers a full crawl once per day at
the configured local time. A trigger that fires while the previous run is
still active is skipped. Prometheus metrics are served on metrics.address.`,
		RunE: runScheduler,
	}

	cmd.Flags().Int("hour", scheduler.DefaultHour, "hour of the daily run (0-23)")
	cmd.Flags().Int("minute", scheduler.DefaultMinute, "minute of the daily run (0-59)")
	cmd.Flags().Bool("run-now", false, "also run immediately on startup")
	_ = viper.BindPFlag(keyHour, cmd.Flags().Lookup("hour"))
	_ = viper.BindPFlag(keyMinute, cmd.Flags().Lookup("minute"))
	_ = viper.BindPFlag(keyRunNow, cmd.Flags().Lookup("run-now"))

	return cmd
}

func runScheduler(cmd *cobra.Command, _ []string) error {
	deps, err := common.NewCommandDeps()
	if err != nil {
		return fmt.Errorf("failed to get dependencies: %w", err)
	}
	defer deps.Close()

	cfg := deps.Config.Scheduler
	if cmd.Flags().Changed("hour") {
		cfg.Hour = viper.GetInt(keyHour)
	}
	if cmd.Flags().Changed("minute") {
		cfg.Minute = viper.GetInt(keyMinute)
	}
	if cmd.Flags().Changed("run-now") {
		cfg.RunNow = viper.GetBool(keyRunNow)
	}

	ctx, cancel := common.SignalContext(cmd.Context())
	defer cancel()

	m, reg := common.NewMetrics()
	runner, err := deps.NewRunner(ctx, deps.Config.Streams, m)
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	log := deps.Logger
	daily, err := scheduler.NewDaily(cfg, func(jobCtx context.Context) error {
		report := runner.RunAll(jobCtx)
		log.Info("Scheduled crawl finished",
			logger.Int("records", report.Records()),
			logger.Strings("failed_streams", report.Failed()),
		)
		return report.Err()
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	common.ServeMetrics(ctx, deps.Config.Metrics.Address, reg, log)

	log.Info("Scheduler started",
		logger.String("schedule", cfg.Spec()),
		logger.Strings("streams", runner.Streams()),
		logger.Bool("run_now", cfg.RunNow),
	)
	return daily.Run(ctx)
}
