package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/postaudit/postaudit/pkg/archive"
	"github.com/postaudit/postaudit/pkg/checkpoint"
	"github.com/postaudit/postaudit/pkg/config"
	"github.com/postaudit/postaudit/pkg/evaluator"
	"github.com/postaudit/postaudit/pkg/logging"
	"github.com/postaudit/postaudit/pkg/pacing"
	"github.com/postaudit/postaudit/pkg/quota"
	"github.com/postaudit/postaudit/pkg/report"
	"github.com/postaudit/postaudit/pkg/retry"
	"github.com/postaudit/postaudit/pkg/scheduler"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "postaudit",
		Short: "Audit an exported post archive against moderation criteria",
		Long: `postaudit evaluates every post in an exported archive against a
generative provider and writes the flagged posts to a CSV report.

Runs are resumable: progress is checkpointed after every batch, daily
provider usage is tracked across invocations, and an interrupted or
quota-paused run picks up where it left off.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "postaudit.yaml", "path to the configuration file")

	rootCmd.AddCommand(runCmd(&configPath))
	rootCmd.AddCommand(quotaCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the audit over the configured archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			logging.Setup(logging.Config{
				Level:  logging.LogLevel(cfg.Logging.Level),
				Pretty: cfg.Logging.Pretty,
			})
			logger := logging.NewLogger("postaudit")

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			if cfg.Metrics.Addr != "" {
				go serveMetrics(cfg.Metrics.Addr, logger)
			}

			// Ctrl-C cancels the run; the last committed checkpoint stays
			// intact and the next invocation resumes from it.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			posts, err := archive.LoadPosts(cfg.Archive.InputPath, logging.NewLogger("archive"))
			if err != nil {
				return fmt.Errorf("load archive: %w", err)
			}

			ledger, err := quota.NewLedger(quota.Config{
				FilePath:        cfg.Quota.FilePath,
				HardDailyLimit:  cfg.Quota.DailyLimit,
				SafetyThreshold: cfg.Quota.SafetyThreshold,
				AnchorTimezone:  cfg.Quota.AnchorTimezone,
			}, logging.NewLogger("quota-ledger"))
			if err != nil {
				return fmt.Errorf("open quota ledger: %w", err)
			}

			eval, err := evaluator.New(evaluator.Config{
				APIKey:   cfg.Provider.APIKey,
				Endpoint: cfg.Provider.Endpoint,
				Timeout:  cfg.Provider.Timeout,
			}, logging.NewLogger("evaluator"))
			if err != nil {
				return fmt.Errorf("create evaluator: %w", err)
			}

			sched := scheduler.New(scheduler.Config{
				BatchSize:   cfg.Processing.BatchSize,
				BatchPause:  cfg.Processing.BatchPause,
				Criteria:    cfg.Criteria,
				RetryPolicy: retry.DefaultPolicy(),
			},
				pacing.NewGovernor(logging.NewLogger("pacing-governor")),
				ledger,
				checkpoint.NewStore(cfg.Processing.CheckpointPath, logging.NewLogger("checkpoint")),
				eval,
				report.NewWriter(cfg.Output.CSVPath, logging.NewLogger("report")),
				logging.NewLogger("scheduler"),
			)

			outcome, err := sched.Run(ctx, posts)
			if err != nil {
				return err
			}

			switch outcome {
			case scheduler.OutcomeCompleted:
				logger.Info().Str("output", cfg.Output.CSVPath).Msg("Audit finished")
			case scheduler.OutcomeQuotaPaused:
				logger.Info().
					Str("resets", ledger.ResetTimeDescription()).
					Msg("Run paused on daily quota - rerun after the reset to continue")
			case scheduler.OutcomeCancelled:
				logger.Info().Msg("Run interrupted - rerun to resume from the last checkpoint")
			}

			return nil
		},
	}
}

func quotaCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect the daily quota ledger",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show today's provider usage and remaining budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			logging.Setup(logging.Config{
				Level:  logging.LevelWarn,
				Pretty: cfg.Logging.Pretty,
			})

			ledger, err := quota.NewLedger(quota.Config{
				FilePath:        cfg.Quota.FilePath,
				HardDailyLimit:  cfg.Quota.DailyLimit,
				SafetyThreshold: cfg.Quota.SafetyThreshold,
				AnchorTimezone:  cfg.Quota.AnchorTimezone,
			}, logging.NewLogger("quota-ledger"))
			if err != nil {
				return fmt.Errorf("open quota ledger: %w", err)
			}

			fmt.Printf("Quota day:     %s (%s)\n", ledger.AnchorDate(), cfg.Quota.AnchorTimezone)
			fmt.Printf("Requests used: %d\n", ledger.RequestCount())
			fmt.Printf("Remaining:     %d of %d (hard limit %d)\n",
				ledger.Remaining(), cfg.Quota.SafetyThreshold, cfg.Quota.DailyLimit)
			fmt.Printf("Resets at:     %s\n", ledger.ResetTimeDescription())

			return nil
		},
	})

	return cmd
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info().Str("addr", addr).Msg("Serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("Metrics server stopped")
	}
}
