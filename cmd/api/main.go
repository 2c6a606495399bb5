package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	httpadp "p2plend/internal/adapter/http"
	mw "p2plend/internal/adapter/middleware"
	"p2plend/internal/app"
	"p2plend/internal/config"
	"p2plend/internal/infrastructure/tracing"
	"p2plend/internal/logging"
)

const serviceName = "p2plend-api"

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.OTLPEndpoint, serviceName)
	if err != nil {
		log.Error("tracing setup failed", "err", err)
		os.Exit(1)
	}

	a, err := app.New(cfg, log, app.WithRedis(), app.WithMigrate())
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	go func() {
		if err := a.Reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("reconciler stopped", "err", err)
		}
	}()
	// catch up on anything a previous process left pending
	a.Reconciler.ScheduleSweep("startup")

	e := echo.New()
	e.HideBanner = true
	e.Validator = httpadp.NewValidator()
	e.Use(middleware.Logger(), middleware.Recover())
	if cfg.OTLPEndpoint != "" {
		e.Use(otelecho.Middleware(serviceName))
	}
	e.Use(mw.WalletIdentity())

	httpadp.Register(e, httpadp.Handlers{
		Health:  httpadp.NewHandler(healthChecks(a)...),
		Loans:   httpadp.NewLoanHandler(a.Coordinator),
		Views:   httpadp.NewViewHandler(a.Engine),
		Parties: httpadp.NewPartyHandler(a.Resolver),
	}, mw.IdempotencyMiddleware(a.Redis, cfg.IdempotencyTTL(),
		mw.WithInProgressTTL(cfg.ConfirmTimeout()+cfg.WriteTimeout()+30*time.Second)))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	addr := ":" + cfg.AppPort
	go func() {
		log.Info("listening", "addr", addr, "ledger_mode", cfg.LedgerMode, "lock_backend", cfg.LockBackend)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	// in-flight requests may be waiting on a confirmation
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ConfirmTimeout()+cfg.WriteTimeout()+5*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		log.Error("http shutdown", "err", err)
	}
	if err := shutdownTracing(sctx); err != nil {
		log.Warn("tracing shutdown", "err", err)
	}
}

func healthChecks(a *app.App) []httpadp.Check {
	checks := []httpadp.Check{{
		Name: "record_store",
		Ping: func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}
	if a.Redis != nil {
		checks = append(checks, httpadp.Check{
			Name: "redis",
			Ping: func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() },
		})
	}
	return checks
}
