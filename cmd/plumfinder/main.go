package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"PlumFinder/internal/app"
	"PlumFinder/internal/config"
	"PlumFinder/internal/domain"
	"PlumFinder/internal/logging"
)

const defaultPruneAge = "90d"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "plumfinder",
		Short:         "Find plum and purple home accents on local marketplaces",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCommand(),
		newResetCommand(),
		newPruneCommand(),
		newStatsCommand(),
		newScheduleCommand(),
	)
	return root
}

// withApp loads configuration and builds the application for fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.Application, logger *zap.Logger) error) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "config: %v\n", err)
		return err
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "config: %v\n", err)
		return err
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("application init failed", zap.Error(err))
		return err
	}

	if err := fn(ctx, application, logger); err != nil {
		logger.Error("command failed", zap.String("command", cmd.Name()), zap.Error(err))
		return err
	}
	return nil
}

func newRunCommand() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once",
		Long:  "Fetch, filter, score, rank, deliver and record. With --test the run stops after ranking and prints the candidates.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application, _ *zap.Logger) error {
				mode := domain.RunNormal
				if dryRun {
					mode = domain.RunDry
				}
				report, err := a.Run(ctx, mode)
				if dryRun && err == nil {
					renderRanked(cmd.OutOrStdout(), report.Ranked)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "test", false, "dry run: no delivery, no store writes")
	return cmd
}

func newResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear every seen record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application, _ *zap.Logger) error {
				return a.Reset(ctx)
			})
		},
	}
}

func newPruneCommand() *cobra.Command {
	var olderThan string
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete seen records older than a given age",
		RunE: func(cmd *cobra.Command, _ []string) error {
			age, err := parseAge(olderThan)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.Application, _ *zap.Logger) error {
				n, err := a.Prune(ctx, age)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d records\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&olderThan, "older-than", defaultPruneAge, "age like 90d or 720h")
	return cmd
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show seen store backend and size",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application, _ *zap.Logger) error {
				stats, err := a.Stats(ctx)
				if err != nil {
					return err
				}
				renderStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}
}

func newScheduleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline on the configured cron expression until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.Application, logger *zap.Logger) error {
				logger.Info("daemon mode, waiting for triggers")
				return a.Schedule(ctx)
			})
		},
	}
}

// parseAge accepts Go durations plus a day suffix, e.g. "90d".
func parseAge(s string) (time.Duration, error) {
	if n := len(s); n > 1 && s[n-1] == 'd' {
		days, err := strconv.Atoi(s[:n-1])
		if err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
		return 0, fmt.Errorf("invalid age %q", s)
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid age %q", s)
	}
	return d, nil
}
