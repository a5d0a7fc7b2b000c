package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinisync/internal/app/server/api"
	"clinisync/internal/app/server/config"
	"clinisync/internal/infrastructure/queue"
	"clinisync/internal/infrastructure/storage/postgres"
	"clinisync/internal/utils/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slog"
)

func main() {
	cfg := config.MustLoad()
	log := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting sync server", "env", cfg.Env, "address", cfg.Server.RunAddress)

	storage, err := postgres.New(cfg)
	if err != nil {
		log.Error("failed to init storage", "error", err)
		os.Exit(1)
	}
	defer storage.Close()

	publisher, err := queue.NewRabbitMQClient(cfg.Queue.AMQPURL, cfg.Queue.QueueName, log)
	if err != nil {
		log.Error("failed to connect to the broker", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	mux, err := api.New(storage, publisher, cfg, log)
	if err != nil {
		log.Error("failed to build api", "error", err)
		os.Exit(1)
	}

	go serveMetrics(cfg.Server.MetricsAddress, log)

	srv := &http.Server{
		Addr:    cfg.Server.RunAddress,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	log.Info("server stopped")
}

func serveMetrics(address string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(address, mux); err != nil {
		log.Error("metrics server failed", "error", err)
	}
}
