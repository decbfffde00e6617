package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/rankings-ingest/api/routes"
	"github.com/angelmondragon/rankings-ingest/internal/cron"
	"github.com/angelmondragon/rankings-ingest/internal/pipeline"
	"github.com/angelmondragon/rankings-ingest/pkg/config"
	"github.com/angelmondragon/rankings-ingest/pkg/db"
	"github.com/angelmondragon/rankings-ingest/pkg/instance"
	"github.com/angelmondragon/rankings-ingest/pkg/logger"
	"github.com/angelmondragon/rankings-ingest/pkg/metrics"
	"github.com/angelmondragon/rankings-ingest/pkg/migrate"
	"github.com/angelmondragon/rankings-ingest/pkg/pubsub"
	"github.com/angelmondragon/rankings-ingest/pkg/redis"
)

const (
	serviceName     = "rankings-worker"
	shutdownTimeout = 10 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	deps := map[string]db.Pinger{"db": dbClient, "redis": nil}
	var (
		lock    cron.Lock = cron.NewLocalLock()
		lastRun *redis.Client
	)
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		redisLock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Worker.LockTTL)
		if err != nil {
			logg.Error(context.Background(), "failed to create cron lock", err)
			os.Exit(1)
		}
		lock = redisLock
		lastRun = redisClient
		deps["redis"] = redisClient
	} else {
		logg.Warn(context.Background(), "redis not configured; using an in-process lock")
	}

	params := pipeline.BootstrapParams{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient.DB(),
		Registerer: prometheus.DefaultRegisterer,
	}
	if cfg.PubSub.Enabled() {
		psClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := psClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		params.Publisher = psClient
		deps["pubsub"] = psClient
	}

	runner, err := pipeline.NewRunnerFromConfig(params)
	if err != nil {
		logg.Error(context.Background(), "failed to build pipeline", err)
		os.Exit(1)
	}

	jobParams := cron.RankingsPullJobParams{
		Logger: logg,
		Runner: runner,
		Days:   cfg.Run.DefaultDays,
	}
	if lastRun != nil {
		jobParams.LastRun = lastRun
	}
	job, err := cron.NewRankingsPullJob(jobParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create rankings job", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   cron.NewRegistry(job),
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Worker.Interval,
		JobTimeout: cfg.Worker.JobTimeout,
		RunOnStart: cfg.Worker.RunOnStart,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	server := &http.Server{
		Addr: cfg.Worker.MetricsAddr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config: cfg,
			Logger: logg,
			Deps:   deps,
			Runner: runner,
			Lock:   lock,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logg.Info(logg.WithField(ctx, "addr", server.Addr), "worker http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "worker http server failed", err)
			stop()
		}
	}()

	logg.Info(ctx, "starting rankings worker")
	runErr := service.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "worker http server shutdown failed", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logg.Error(ctx, "rankings worker stopped unexpectedly", runErr)
		os.Exit(1)
	}
	logg.Info(ctx, "rankings worker shutting down gracefully")
}

func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return env + ":rankings-pull"
}
