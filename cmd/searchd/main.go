// Command searchd serves queries over HTTP from the newest published
// snapshot of an index. Snapshots are refreshed on a timer, on manifest
// changes and on index.complete events when Kafka is enabled.
//
// Usage:
//
//	go run ./cmd/searchd [-config configs/segdex.yaml] [-merge]
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
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/segdex/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/segdex/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/segdex.yaml", "path to config file")
	merge := flag.Bool("merge", false, "run the background compaction loop")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "index", cfg.Index.DataDir)

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

	mgr, err := searcher.NewManager(cfg.Index.DataDir)
	if err != nil {
		slog.Error("failed to open index", "error", err)
		os.Exit(1)
	}
	defer mgr.Close()
	go mgr.Watch(ctx, cfg.Search.RefreshInterval, cfg.Search.WatchIndex)

	checker := health.NewChecker()
	checker.Register("index", health.IndexCheck(mgr.Ready, mgr.Generation))

	var remote cache.Remote
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, using in-process cache only", "error", err)
		} else {
			defer redisClient.Close()
			remote = cache.Guard(redisClient, resilience.CircuitBreakerConfig{})
			checker.Register("redis", health.PingCheck(redisClient.Ping))
			slog.Info("shared search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}
	queryCache, err := cache.New(cache.DefaultEntries, remote, cfg.Redis.CacheTTL)
	if err != nil {
		slog.Error("failed to create query cache", "error", err)
		os.Exit(1)
	}

	if cfg.Kafka.Enabled {
		completions := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete, 1, 0,
			func(ctx context.Context, batch []kafka.Message) error {
				swapped, err := mgr.Refresh()
				if err != nil {
					slog.Warn("refresh after index completion failed", "error", err)
					return nil
				}
				slog.Debug("index completion received", "messages", len(batch), "swapped", swapped)
				return nil
			})
		go func() {
			if err := completions.Start(ctx); err != nil {
				slog.Error("index completion consumer error", "error", err)
			}
		}()
		slog.Info("listening for index completions", "topic", cfg.Kafka.Topics.IndexComplete)
	}

	if *merge {
		indexer.StartMergeLoop(ctx, cfg.Index)
	}

	h := handler.New(mgr, queryCache, cfg.Search)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.NewRouter(h, checker, cfg.Server),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}
