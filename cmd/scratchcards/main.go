// Command scratchcards serves the scratch card API: provisioning, scratching
// and claim authorization.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	app "github.com/R3E-Network/scratchcards/internal/app"
	"github.com/R3E-Network/scratchcards/internal/app/httpapi"
	"github.com/R3E-Network/scratchcards/internal/config"
	"github.com/R3E-Network/scratchcards/internal/middleware"
	"github.com/R3E-Network/scratchcards/pkg/logger"
)

func main() {
	checkOnly := flag.Bool("check", false, "load configuration, connect dependencies and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logr := logger.New(cfg.Logging.LoggerConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.Open(ctx, cfg, logr)
	if err != nil {
		logr.WithError(err).Fatal("build application")
	}
	if err := application.Start(ctx); err != nil {
		logr.WithError(err).Fatal("start application")
	}
	if *checkOnly {
		logr.Info("configuration check passed")
		_ = application.Stop(context.Background())
		return
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logr)
	limiter.StartCleanup(ctx, time.Minute)

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.NewHandler(application, httpapi.Options{
			RateLimiter: limiter,
			CORSOrigins: cfg.Server.Origins(),
			Log:         logr,
		}),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logr.WithField("addr", cfg.Server.Addr).
			WithField("storage", cfg.Storage.Backend).
			Info("scratchcards API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logr.WithError(err).Error("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		logr.WithError(err).Warn("stop application")
	}
	logr.Info("stopped")
}
