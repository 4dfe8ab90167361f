package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/settlement-api/internal/app"
	"github.com/jwalitptl/settlement-api/internal/config"
	auditHandler "github.com/jwalitptl/settlement-api/internal/handler/audit"
	bookingHandler "github.com/jwalitptl/settlement-api/internal/handler/booking"
	commissionHandler "github.com/jwalitptl/settlement-api/internal/handler/commission"
	"github.com/jwalitptl/settlement-api/internal/handler/health"
	ledgerHandler "github.com/jwalitptl/settlement-api/internal/handler/ledger"
	payoutHandler "github.com/jwalitptl/settlement-api/internal/handler/payout"
	promHandler "github.com/jwalitptl/settlement-api/internal/handler/prometheus"
	slotHandler "github.com/jwalitptl/settlement-api/internal/handler/slot"
	walletHandler "github.com/jwalitptl/settlement-api/internal/handler/wallet"
	"github.com/jwalitptl/settlement-api/internal/middleware"
	"github.com/jwalitptl/settlement-api/internal/router"
	"github.com/jwalitptl/settlement-api/pkg/auth"
	"github.com/jwalitptl/settlement-api/pkg/logger"
	"github.com/jwalitptl/settlement-api/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("jwt secret is not configured")
	}

	appLog := logger.NewLogger(&logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
	}).WithFields(map[string]interface{}{"service": "settlement-api"})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(cfg.Metrics.Namespace, "api", registry)

	ctx := context.Background()
	store, err := app.OpenStore(ctx, cfg.Database, m, appLog)
	if err != nil {
		appLog.Fatal(err, "Failed to open store")
	}
	defer store.Close()

	services, err := app.NewServices(store, cfg, appLog, m)
	if err != nil {
		appLog.Fatal(err, "Failed to initialise services")
	}

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer))

	r := router.NewRouter(
		authMiddleware,
		health.NewHandler(store),
		promHandler.New(cfg.Metrics.Namespace, registry),
		router.RouterConfig{
			Mode:           cfg.Server.Mode,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RequestTimeout: cfg.Server.RequestTimeout,
			MetricsPath:    cfg.Metrics.Path,
			Logger:         *appLog.Zerolog(),
		},
		slotHandler.NewHandler(services.Slots),
		bookingHandler.NewHandler(services.Bookings),
		commissionHandler.NewHandler(services.Commission),
		ledgerHandler.NewHandler(services.Ledger),
		payoutHandler.NewHandler(services.Payouts),
		walletHandler.NewHandler(services.Wallets),
		auditHandler.NewHandler(services.Audit),
	)
	r.Setup()

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		appLog.Info("Starting server", "port", cfg.Server.Port, "store", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal(err, "Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(err, "Server forced to shutdown")
	}

	appLog.Info("Server exited properly")
}
