package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyvo/compute/provisioner/pkg/bootstrap"
	"github.com/vyvo/compute/provisioner/pkg/config"
	"github.com/vyvo/compute/provisioner/pkg/queue"
	"github.com/vyvo/compute/provisioner/pkg/telemetry"
)

func main() {
	logger := telemetry.NewLogger(os.Stdout, "provisioner-api", os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadProvisioner()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer := telemetry.InitTracer(ctx, "provisioner-api", nil)
	defer func() { _ = shutdownTracer(context.Background()) }()

	requests, err := queue.NewQueue(cfg.RedisURL)
	if err != nil {
		logger.Error("connect request queue", "error", err)
		os.Exit(1)
	}
	defer requests.Close()

	svc, err := bootstrap.Open(cfg, logger)
	if err != nil {
		logger.Error("initialise orchestrator", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	s := &server{
		queue:   requests,
		nodes:   svc.Orchestrator,
		journal: svc.Journal,
		logger:  logger,
	}
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: s.routes(cfg.APIKeys)}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("provisioner API listening", "addr", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("provisioner API failed", "error", err)
		os.Exit(1)
	}
}
