package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	boltadapter "github.com/couchcryptid/quake-monitor-service/internal/adapter/bolt"
	"github.com/couchcryptid/quake-monitor-service/internal/adapter/feed"
	httpadapter "github.com/couchcryptid/quake-monitor-service/internal/adapter/http"
	"github.com/couchcryptid/quake-monitor-service/internal/adapter/jsonl"
	kafkaadapter "github.com/couchcryptid/quake-monitor-service/internal/adapter/kafka"
	"github.com/couchcryptid/quake-monitor-service/internal/alert"
	"github.com/couchcryptid/quake-monitor-service/internal/config"
	"github.com/couchcryptid/quake-monitor-service/internal/features"
	"github.com/couchcryptid/quake-monitor-service/internal/model"
	"github.com/couchcryptid/quake-monitor-service/internal/observability"
	"github.com/couchcryptid/quake-monitor-service/internal/pipeline"
)

func main() {
	root := &cobra.Command{
		Use:           "quakemon",
		Short:         "Real-time earthquake classification and alerting",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(monitorCmd(), batchCmd(), checkCmd())

	if err := root.Execute(); err != nil {
		if !errors.Is(err, errCheckFailed) {
			slog.Error("quakemon failed", "error", err)
		}
		os.Exit(1)
	}
}

func monitorCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Poll the configured feeds, classify new events and raise alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd.Context(), once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single poll cycle and exit")
	return cmd
}

func runMonitor(parent context.Context, once bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	registry, err := model.NewRegistry(cfg.ModelDir, logger)
	if err != nil {
		return err
	}
	metrics.BundlesLoaded.Set(float64(registry.Current().Len()))
	registry.OnChange(func(s *model.Set) { metrics.BundlesLoaded.Set(float64(s.Len())) })

	results, err := jsonl.Open(cfg.ResultsPath)
	if err != nil {
		return err
	}
	defer closeLogged(logger, "results log", results)
	alerts, err := jsonl.Open(cfg.AlertsPath)
	if err != nil {
		return err
	}
	defer closeLogged(logger, "alert log", alerts)

	emitOpts := alert.Options{
		Results: results,
		Alerts:  alerts,
		Bars:    cfg.AlertBars,
		Logger:  logger,
		Metrics: metrics,
	}
	if cfg.AlertLedgerPath != "" {
		ledger, err := boltadapter.Open(cfg.AlertLedgerPath)
		if err != nil {
			return err
		}
		defer closeLogged(logger, "alert ledger", ledger)
		emitOpts.Ledger = ledger
		logger.Info("alert ledger enabled", "path", cfg.AlertLedgerPath)
	}
	if cfg.KafkaEnabled() {
		publisher := kafkaadapter.NewAlertPublisher(cfg, logger)
		defer closeLogged(logger, "kafka alert publisher", publisher)
		emitOpts.Publisher = publisher
		logger.Info("kafka alert fan-out enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaAlertTopic)
	}

	processor := pipeline.NewProcessor(features.NewEngineer(cfg.ShortWindow, cfg.LongWindow), logger, metrics)
	scheduler := pipeline.NewScheduler(
		feed.NewClient(logger),
		registry,
		processor,
		alert.NewEmitter(emitOpts),
		pipeline.Options{
			Providers:     cfg.Providers,
			Interval:      cfg.PollInterval,
			FetchTimeout:  cfg.FetchTimeout,
			FetchRetries:  cfg.FetchRetries,
			FetchBackoff:  cfg.FetchBackoff,
			DedupCapacity: cfg.DedupCapacity,
		},
		clockwork.NewRealClock(),
		logger,
		metrics,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if once {
		report := scheduler.RunCycle(ctx)
		logger.Info("single cycle finished", "processed", report.Processed, "alerts", report.Alerts)
		return nil
	}

	if cfg.ModelWatch {
		go func() {
			if err := registry.Watch(ctx); err != nil {
				logger.Error("bundle watcher stopped", "error", err)
			}
		}()
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, scheduler, scheduler, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if err := scheduler.Run(ctx); err != nil {
		logger.Error("scheduler error", "error", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func batchCmd() *cobra.Command {
	var input, output string
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Score a historical catalog CSV and write one result per row",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runBatch(input, output)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "catalog CSV with a header row")
	cmd.Flags().StringVar(&output, "output", "batch_results.jsonl", "results JSONL file")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runBatch(input, output string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	set, bundleErrs, err := model.LoadAll(cfg.ModelDir, logger)
	if err != nil {
		return err
	}
	for _, e := range bundleErrs {
		logger.Warn("bundle unavailable", "error", e)
	}

	f, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("open batch input: %w", err)
	}
	defer f.Close()
	records, rowErrs, err := feed.ReadCatalog(f, "catalog")
	if err != nil {
		return err
	}
	for _, e := range rowErrs {
		logger.Warn("row skipped", "error", e)
	}

	out, err := jsonl.Open(output)
	if err != nil {
		return err
	}
	defer closeLogged(logger, "batch output", out)

	summary := pipeline.RunBatch(records, set, out, pipeline.BatchOptions{
		Engineer: features.NewEngineer(cfg.ShortWindow, cfg.LongWindow),
		Bars:     cfg.AlertBars,
		Logger:   logger,
		Metrics:  metrics,
	})
	logger.Info("batch written",
		"output", out.Name(),
		"scored", summary.Scored,
		"skipped", summary.ParseErrors+len(rowErrs),
		"write_errors", summary.WriteErrors,
	)
	return nil
}

type closer interface{ Close() error }

func closeLogged(logger *slog.Logger, what string, c closer) {
	if err := c.Close(); err != nil {
		logger.Error("close failed", "target", what, "error", err)
	}
}
