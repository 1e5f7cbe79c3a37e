// Package main provides the CLI entry point for the alert-poller.
// It periodically publishes every earthquake recorded within the poll window.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quake-alerts/internal/alert"
	"quake-alerts/internal/config"
	"quake-alerts/internal/database"
	"quake-alerts/internal/events"
	"quake-alerts/internal/metrics"
	"quake-alerts/internal/publisher"
	pkgmetrics "quake-alerts/pkg/metrics"
	"quake-alerts/pkg/shared"
)

const processName = "alert-poller"

func main() {
	cfg := &config.Config{}
	cfg.RegisterFlags(flag.CommandLine)
	once := flag.Bool("once", false, "Run a single poll and exit")
	flag.Parse()

	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "DEBUG" || os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("Starting alert-poller",
		"postgres_dsn", shared.MaskDSN(cfg.PostgresDSN),
		"sns_topic_arn", cfg.SNSTopicARN,
		"strategy", cfg.Strategy,
		"poll_interval", cfg.PollInterval,
		"poll_window", cfg.PollWindow,
		"dry_run", cfg.DryRun,
		"once", *once,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	db, err := database.NewDB(cfg.PostgresDSN)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	client, err := cfg.NewBroker(ctx)
	if err != nil {
		slog.Error("Failed to create SNS client", "error", err)
		os.Exit(1)
	}

	var options []alert.Option
	if cfg.RedisAddr != "" {
		redisClient, err := shared.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()

		collector := pkgmetrics.NewCollector(processName, redisClient)
		collector.SetReportInterval(cfg.MetricsInterval)
		collector.Start(ctx)
		defer collector.Stop()

		// Overlapping windows re-read the same earthquakes; the ledger keeps
		// each one to a single publish per topic.
		options = append(options,
			alert.WithMetrics(metrics.NewAdapter(collector)),
			alert.WithLedger(publisher.NewRedisLedger(redisClient, cfg.PublishLedgerTTL)),
		)
	} else if !*once && cfg.PollInterval < cfg.PollWindow {
		slog.Warn("Poll windows overlap without a Redis ledger; earthquakes may be published more than once",
			"poll_interval", cfg.PollInterval,
			"poll_window", cfg.PollWindow,
		)
	}

	svc := alert.NewService(db, client, cfg.AlertOptions(), options...)

	poll := func() {
		pollCtx, pollCancel := context.WithTimeout(ctx, cfg.InvocationTimeout)
		defer pollCancel()

		res, err := svc.HandleRecent(pollCtx, events.PollRequest{Window: cfg.PollWindow})
		if err != nil {
			slog.Error("Poll failed", "error", err)
			return
		}
		slog.Info("Poll finished",
			"invocation_id", res.InvocationID,
			"earthquakes_found", res.EarthquakesFound,
			"published", res.Published,
			"pending_confirmations", res.Pending,
			"failed", len(res.Failed),
		)
	}

	poll()
	if *once {
		return
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Alert-poller stopped")
			return
		case <-ticker.C:
			poll()
		}
	}
}
