package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/vyvo/compute/provisioner/pkg/bootstrap"
	"github.com/vyvo/compute/provisioner/pkg/config"
	"github.com/vyvo/compute/provisioner/pkg/queue"
	"github.com/vyvo/compute/provisioner/pkg/telemetry"
)

func main() {
	logger := telemetry.NewLogger(os.Stdout, "provisioner-worker", os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadProvisioner()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer := telemetry.InitTracer(ctx, "provisioner-worker", nil)
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

	hostname, _ := os.Hostname()
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			runWorker(ctx, id, requests, svc.Orchestrator, logger)
		}(fmt.Sprintf("%s-%d", hostname, i))
	}
	logger.Info("provisioner workers running", "count", cfg.Workers)
	wg.Wait()
}
