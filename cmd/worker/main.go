// Command worker runs the bounded agentic loop that drains job_application
// tasks from the broker and drives a browser session to completion.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jobagent/orchestrator/internal/broker"
	"github.com/jobagent/orchestrator/internal/config"
	"github.com/jobagent/orchestrator/internal/domain"
	"github.com/jobagent/orchestrator/internal/observability"
	"github.com/jobagent/orchestrator/internal/worker"
	"github.com/jobagent/orchestrator/internal/worker/stub"
)

// stubSessionFactory is the only worker.SessionFactory wired in this repo:
// no browser-automation backend is in scope, so the loop's retry/terminal
// outcome logic runs against stub.Session's deterministic scripted pages.
func stubSessionFactory(_ context.Context, payload *domain.JobApplicationPayload) (domain.BrowserSession, error) {
	return stub.New(payload), nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg, "worker")
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9091", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid redis url", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	q := broker.New(rdb, broker.Config{
		ResultTTL:    cfg.BrokerResultTTL,
		HeartbeatTTL: cfg.BrokerHeartbeatTTL,
		PollInterval: cfg.BrokerConsumePollEvery,
	})

	loop := worker.NewLoop(stubSessionFactory, q, cfg.MaxSteps, cfg.MaxAttemptsPerStep, cfg.DrainBlockTimeout, cfg.HeartbeatInterval)

	slog.Info("worker loop starting")
	loop.Run(ctx)
	slog.Info("worker loop stopped")
}
