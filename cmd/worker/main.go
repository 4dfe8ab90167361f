package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/settlement-api/internal/app"
	"github.com/jwalitptl/settlement-api/internal/config"
	"github.com/jwalitptl/settlement-api/internal/model"
	"github.com/jwalitptl/settlement-api/internal/repository"
	"github.com/jwalitptl/settlement-api/internal/worker"
	"github.com/jwalitptl/settlement-api/pkg/logger"
	"github.com/jwalitptl/settlement-api/pkg/messaging/redis"
	"github.com/jwalitptl/settlement-api/pkg/metrics"
	outbox "github.com/jwalitptl/settlement-api/pkg/worker"
)

const healthAddr = ":8081"

func setupHealthCheck(store repository.Store, registry *prometheus.Registry, appLog *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: healthAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal(err, "Health check server failed")
		}
	}()
	return srv
}

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	appLog := logger.NewLogger(&logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
	}).WithFields(map[string]interface{}{"service": "settlement-worker", "worker_id": workerID()})

	if cfg.Database.Driver == "memory" {
		// The worker shares state with the API only through the database.
		appLog.Fatal(errors.New("memory store"), "Worker requires the postgres store")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(cfg.Metrics.Namespace, "worker", registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := app.OpenStore(ctx, cfg.Database, m, appLog)
	if err != nil {
		appLog.Fatal(err, "Failed to open store")
	}
	defer store.Close()

	services, err := app.NewServices(store, cfg, appLog, m)
	if err != nil {
		appLog.Fatal(err, "Failed to initialise services")
	}

	// Initialize Redis broker
	broker, err := redis.NewRedisBroker(ctx, redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
	}, *appLog.Zerolog())
	if err != nil {
		appLog.Fatal(err, "Failed to create Redis broker")
	}
	defer broker.Close()

	processor := outbox.NewOutboxProcessor(
		store,
		broker,
		outbox.OutboxProcessorConfig{
			BatchSize:        cfg.Outbox.BatchSize,
			PollInterval:     cfg.Outbox.PollInterval,
			RetryAttempts:    cfg.Outbox.RetryAttempts,
			RetryDelay:       cfg.Outbox.RetryDelay,
			PublishPerSecond: cfg.Outbox.PublishPerSecond,
			PublishBurst:     cfg.Outbox.PublishBurst,
		},
		appLog,
		m,
	)
	cleanup := outbox.NewOutboxCleanupWorker(store.Outbox(), cfg.Outbox.Retention, time.Hour, appLog)

	redisOpt, err := asynq.ParseRedisURI(cfg.Redis.URL)
	if err != nil {
		appLog.Fatal(err, "Invalid Redis URL for task queue")
	}
	scheduler, err := worker.NewScheduler(redisOpt, worker.SchedulerConfig{
		Cron:  cfg.Payout.Cron,
		Cycle: model.PayoutCycle(cfg.Payout.Cycle),
		Queue: cfg.Payout.Queue,
	}, appLog)
	if err != nil {
		appLog.Fatal(err, "Failed to create payout scheduler")
	}
	taskServer := worker.NewServer(redisOpt, worker.ServerConfig{
		Queue:       cfg.Payout.Queue,
		Concurrency: cfg.Payout.Concurrency,
	}, appLog)
	mux := asynq.NewServeMux()
	worker.NewPayoutBatchHandler(services.Payouts, appLog).Register(mux)

	healthSrv := setupHealthCheck(store, registry, appLog)

	if err := taskServer.Start(mux); err != nil {
		appLog.Fatal(err, "Failed to start task server")
	}
	if err := scheduler.Start(); err != nil {
		appLog.Fatal(err, "Failed to start payout scheduler")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	appLog.Info("Shutting down...")

	cancel()
	scheduler.Shutdown()
	taskServer.Shutdown()
	wg.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(err, "Health server forced to shutdown")
	}
	appLog.Info("Worker exited")
}

func workerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}
