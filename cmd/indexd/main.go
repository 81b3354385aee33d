// Command indexd is the write side of segdex. It accepts documents over
// HTTP, queues them on the document-ingest topic, indexes them in batches
// from that topic and announces each published generation on index.complete.
//
// Usage:
//
//	go run ./cmd/indexd [-config configs/segdex.yaml] [-port 8081]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/indexer/ingest"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/segdex.yaml", "path to config file")
	port := flag.Int("port", 0, "ingest api port (overrides server.port)")
	metricsPort := flag.Int("metrics-port", 0, "metrics port (overrides metrics.port)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *metricsPort > 0 {
		cfg.Metrics.Port = *metricsPort
	}
	if !cfg.Kafka.Enabled {
		slog.Error("indexd needs kafka; set kafka.enabled")
		os.Exit(1)
	}
	slog.Info("starting indexer service", "index", cfg.Index.DataDir, "batch_size", cfg.Index.BatchSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		shutdownMetrics, err := metrics.StartServer(cfg.Metrics.Port)
		if err != nil {
			slog.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
		defer shutdownMetrics(context.Background())
	}

	checker := health.NewChecker()
	var (
		status       consumer.StatusStore
		ingestStatus ingest.StatusStore
	)
	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		status, ingestStatus = db, db
		checker.Register("postgres", health.PingCheck(db.Ping))
		slog.Info("recording document status in postgres", "database", cfg.Postgres.Database)
	}
	if len(cfg.Server.AdminKeyHashes) == 0 {
		slog.Warn("no admin keys configured, document writes are unauthenticated")
	}

	completions := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
	defer completions.Close()
	queue := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest)
	defer queue.Close()

	ic := consumer.New(cfg.Index, status, completions)
	batches := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest,
		cfg.Index.BatchSize, cfg.Index.BatchTimeout, ic.HandleBatch)

	indexer.StartMergeLoop(ctx, cfg.Index)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      ingest.NewRouter(ingest.New(queue, ingestStatus), checker, cfg.Server),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		slog.Info("ingest api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.DocumentIngest,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := batches.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("indexer service stopped")
}
