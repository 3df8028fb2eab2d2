package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"media-pipeline-orchestrator/internal/api"
	"media-pipeline-orchestrator/internal/config"
	"media-pipeline-orchestrator/internal/models"
	"media-pipeline-orchestrator/internal/ratelimit"
	"media-pipeline-orchestrator/internal/scheduler"
	"media-pipeline-orchestrator/internal/stages"
	"media-pipeline-orchestrator/internal/store"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("orchestrator exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Config{
		ConcurrencyCap:     cfg.ConcurrencyCap,
		DispatchInterval:   cfg.DispatchInterval,
		DefaultPriority:    cfg.DefaultPriority,
		DefaultMaxAttempts: cfg.DefaultMaxAttempts,
	}, st, st, logger)

	// One shared pacer keeps every AI service call inside the vendor quota.
	pacer := ratelimit.New(ratelimit.Config{
		MaxRequests: cfg.RateLimitRequests,
		Window:      cfg.RateLimitWindow,
	})

	extractor, err := stages.NewExtractor(ctx, cfg, st, st)
	if err != nil {
		return err
	}
	sched.RegisterExecutor(models.StageExtract, extractor)
	sched.RegisterExecutor(models.StageAnalyze, stages.NewAnalyzer(cfg, st, st, pacer))
	sched.RegisterExecutor(models.StageIntelligence, stages.NewIntelligenceDeriver(cfg, st, st, pacer))

	admission, cleanup := newAdmission(cfg)
	defer cleanup()

	go janitor(ctx, cfg.RateLimitWindow, pacer, admission)

	sched.Start(ctx)
	defer sched.Stop()

	server := api.New(ctx, st, sched, admission, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	return httpServer.Shutdown(shutdownCtx)
}

// newAdmission picks the submission admission controller. The in-memory
// tiered limiter is the default; the Redis window shares quota across
// replicas.
func newAdmission(cfg config.Config) (api.Admission, func()) {
	if cfg.RateLimitBackend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return ratelimit.NewRedisWindow(client, cfg.RateLimitRequests, cfg.RateLimitWindow), func() { _ = client.Close() }
	}
	tiers := map[string]ratelimit.Config{
		api.DefaultTier: {MaxRequests: cfg.RateLimitRequests, Window: cfg.RateLimitWindow},
		"priority":      {MaxRequests: cfg.RateLimitRequests * 2, Window: cfg.RateLimitWindow},
	}
	return ratelimit.NewTiered(tiers), func() {}
}

// janitor periodically drops idle limiter records.
func janitor(ctx context.Context, window time.Duration, pacer *ratelimit.Limiter, admission api.Admission) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pacer.Cleanup()
			if tiered, ok := admission.(*ratelimit.TieredLimiter); ok {
				tiered.Cleanup()
			}
		}
	}
}
