package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vacaplan-dev/vacaplan/internal/confirm"
	"github.com/vacaplan-dev/vacaplan/internal/engine"
	"github.com/vacaplan-dev/vacaplan/internal/event"
	"github.com/vacaplan-dev/vacaplan/internal/plan"
	"github.com/vacaplan-dev/vacaplan/internal/providers"
	"github.com/vacaplan-dev/vacaplan/internal/server"
	"github.com/vacaplan-dev/vacaplan/internal/store"
	"github.com/vacaplan-dev/vacaplan/pkg/config"
	"github.com/vacaplan-dev/vacaplan/pkg/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trip-planning API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	observability.InitMetrics()
	health := observability.InitHealthChecker()
	if err := observability.InitTracingFromEnv(); err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.ShutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	st, tokens, err := buildStores(ctx, cfg, health)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	gate, err := confirm.NewGate([]byte(cfg.Engine.ConfirmSecret), cfg.Engine.ConfirmTTL, tokens)
	if err != nil {
		return err
	}

	eng := engine.New(engineConfig(cfg), st, event.NewBus(), gate,
		plan.NewRuleCurator(), plan.NewRuleReviewer(0), logger,
		providers.NewCalendar(), providers.NewFlights(), providers.NewHotels(), providers.NewActivities())

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Retention.Schedule, func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if n, err := eng.ExpireStale(jobCtx); err != nil {
			logger.Warn("expire sweep failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("expired stale sessions", zap.Int("count", n))
		}
		cutoff := time.Now().Add(-cfg.Retention.Window)
		if n, err := st.PurgeBefore(jobCtx, cutoff); err != nil {
			logger.Warn("retention purge failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("purged old sessions", zap.Int("count", n), zap.Time("cutoff", cutoff))
		}
	}); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", cfg.Retention.Schedule, err)
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(eng, st, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildStores wires the configured session store backend plus the used-token
// store the confirmation gate shares with it.
func buildStores(ctx context.Context, cfg *config.Config, health *observability.HealthChecker) (store.Store, confirm.UsedTokenStore, error) {
	if cfg.Store.Backend != "redis" {
		health.RegisterCheck(observability.StoreCheck(func(context.Context) error { return nil }))
		return store.NewMemoryStore(), confirm.NewMemoryTokenStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Store.RedisAddr,
		Password: cfg.Store.RedisPassword,
		DB:       cfg.Store.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	health.RegisterCheck(observability.StoreCheck(func(c context.Context) error {
		return client.Ping(c).Err()
	}))
	st := store.NewRedisStoreFromClient(client, cfg.Store.KeyPrefix, cfg.Store.KeyTTL)
	return st, confirm.NewRedisTokenStore(client, cfg.Store.KeyPrefix), nil
}

func engineConfig(cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.Limits.MaxToolCalls = cfg.Engine.MaxToolCalls
	ec.Limits.MaxModelCalls = cfg.Engine.MaxModelCalls
	ec.Limits.MaxCostUnits = cfg.Engine.MaxCostUnits
	ec.Invoker.DefaultTimeout = cfg.Engine.CallTimeout
	ec.Invoker.Retry.MaxRetries = cfg.Engine.MaxRetries
	ec.Invoker.Retry.BackoffBase = cfg.Engine.BackoffBase
	ec.Invoker.BreakerFailures = cfg.Engine.BreakerFailures
	ec.Invoker.BreakerCooldown = cfg.Engine.BreakerCooldown
	ec.ConfirmTTL = cfg.Engine.ConfirmTTL
	ec.SearchConcurrency = cfg.Engine.SearchConcurrency
	return ec
}
