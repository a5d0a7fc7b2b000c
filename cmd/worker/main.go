package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"clinisync/internal/app/server/api"
	"clinisync/internal/app/server/config"
	"clinisync/internal/infrastructure/queue"
	"clinisync/internal/infrastructure/storage/postgres"
	"clinisync/internal/utils/logger"
	"clinisync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slog"
)

func main() {
	cfg := config.MustLoad()
	log := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting sync worker", "env", cfg.Env, "queue", cfg.Queue.QueueName)

	storage, err := postgres.New(cfg)
	if err != nil {
		log.Error("failed to init storage", "error", err)
		os.Exit(1)
	}
	defer storage.Close()

	// The worker publishes too: the pending sweep re-enqueues ledger rows
	// whose original publish was lost.
	publisher, err := queue.NewRabbitMQClient(cfg.Queue.AMQPURL, cfg.Queue.QueueName, log)
	if err != nil {
		log.Error("failed to connect to the broker", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	svc, err := api.NewSyncService(storage, publisher, cfg, log)
	if err != nil {
		log.Error("failed to build sync service", "error", err)
		os.Exit(1)
	}
	repo := postgres.NewSyncRepository(storage.Pool(), log)

	go serveMetrics(cfg.Server.MetricsAddress, log)

	w := worker.New(repo, svc, publisher, cfg, log)
	w.Run(ctx)

	log.Info("worker stopped")
}

func serveMetrics(address string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(address, mux); err != nil {
		log.Error("metrics server failed", "error", err)
	}
}
