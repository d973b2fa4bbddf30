package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/convoreach/backend/internal/config"
	"github.com/convoreach/backend/internal/db"
	"github.com/convoreach/backend/internal/logger"
	"github.com/convoreach/backend/internal/queue"
	"github.com/convoreach/backend/internal/repository"
	"github.com/convoreach/backend/internal/service"
	"github.com/convoreach/backend/internal/transport"
)

// The worker binary drains the dispatch topic from RabbitMQ so sends can be
// scaled out independently of the API process.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		panic(err)
	}
	if cfg.AMQP.URL == "" {
		log.Fatal().Msg("AMQP_URL must be set for the worker")
	}

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer conn.Close()

	q, err := queue.DialAMQP(cfg.AMQP.URL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("amqp connection failed")
	}
	defer q.Close()

	campaignRepo := &repository.CampaignRepository{DB: conn}
	dispatchRepo := &repository.DispatchLogRepository{DB: conn}

	registry := transport.NewRegistry()
	registry.Register(1, transport.NewMockTransport(cfg.Dispatch.MockFailureRate))

	completion := service.NewCompletionDetector(campaignRepo, log)
	dispatcher := service.NewDispatcher(campaignRepo, dispatchRepo, registry, q, completion, service.DispatcherConfig{
		Concurrency:   cfg.Dispatch.WorkerConcurrency,
		RatePerWindow: cfg.Dispatch.RatePerWindow,
		RateWindow:    cfg.Dispatch.RateWindow,
		MaxAttempts:   cfg.Dispatch.MaxAttempts,
		RetryBase:     cfg.Dispatch.RetryBase,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatcher.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("dispatcher start failed")
	}

	log.Info().Msg("worker running, waiting for dispatch jobs")
	<-ctx.Done()
}
