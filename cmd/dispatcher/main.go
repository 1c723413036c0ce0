// Command dispatcher runs the HTTP API, the drain and maintenance loops,
// and the HITL SMS controller as a single process.
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
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jobagent/orchestrator/internal/broker"
	"github.com/jobagent/orchestrator/internal/config"
	"github.com/jobagent/orchestrator/internal/crypto"
	"github.com/jobagent/orchestrator/internal/dispatcher"
	"github.com/jobagent/orchestrator/internal/hitl"
	"github.com/jobagent/orchestrator/internal/httpapi"
	"github.com/jobagent/orchestrator/internal/observability"
	"github.com/jobagent/orchestrator/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg, "dispatcher")
	slog.SetDefault(logger)

	observability.InitMetrics()

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

	pool, err := store.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool, logger); err != nil {
		slog.Error("db migration failed", slog.Any("error", err))
		os.Exit(1)
	}

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

	roles := store.NewRoleStore(pool)
	profiles := store.NewProfileStore(pool)
	creds := store.NewCredentialStore(pool)
	apps := store.NewApplicationStore(pool)

	encKey, err := crypto.DecodeKey(cfg.EncryptionKey)
	if err != nil {
		slog.Error("invalid encryption key", slog.Any("error", err))
		os.Exit(1)
	}
	credCipher, err := crypto.NewCredentialCipher(encKey)
	if err != nil {
		slog.Error("failed to initialize credential cipher", slog.Any("error", err))
		os.Exit(1)
	}

	intake := dispatcher.NewIntake(apps, roles, profiles, creds, q, credCipher)
	drain := dispatcher.NewDrain(apps, q, cfg.DrainBlockTimeout)
	maintenance := dispatcher.NewMaintenance(apps, q, intake, cfg.StaleSubmittingAfter, cfg.MaintenanceInterval, cfg.MaxApplicationAttempts)

	smsGateway := hitl.NewHTTPGateway(cfg.SMSGatewayBaseURL, cfg.SMSGatewayAPIKey)
	hitlController := hitl.NewController(apps, roles, profiles, q, intake, cfg.SMSWebhookSigningSecret)
	notifier := hitl.NewNotifier(profiles, q, smsGateway, cfg.DrainBlockTimeout)

	go drain.Run(ctx)
	go maintenance.Run(ctx)
	go notifier.Run(ctx)

	checks := []httpapi.HealthCheck{
		{Name: "postgres", Critical: true, Check: func(ctx context.Context) error { return pool.Ping(ctx) }},
		{Name: "redis", Critical: true, Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		{Name: "automation", Critical: false, Check: func(ctx context.Context) error {
			if _, ok, err := q.LastHeartbeat(ctx, "automation"); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("no automation heartbeat within the last 120s")
			}
			return nil
		}},
	}

	srv := httpapi.NewServer(cfg, profiles, creds, roles, apps, credCipher, intake, hitlController, checks)
	handler := httpapi.NewRouter(cfg, srv)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("dispatcher http server starting", slog.Int("port", cfg.Port))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", slog.Any("error", err))
	}
}
