package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/convoreach/backend/internal/config"
	"github.com/convoreach/backend/internal/controller"
	"github.com/convoreach/backend/internal/db"
	"github.com/convoreach/backend/internal/logger"
	"github.com/convoreach/backend/internal/queue"
	"github.com/convoreach/backend/internal/repository"
	"github.com/convoreach/backend/internal/service"
	"github.com/convoreach/backend/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		panic(err)
	}

	conn, err := db.Connect(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer conn.Close()

	campaignRepo := &repository.CampaignRepository{DB: conn}
	customerRepo := &repository.CustomerRepository{DB: conn}
	dispatchRepo := &repository.DispatchLogRepository{DB: conn}

	var q queue.Queue
	brokered := cfg.AMQP.URL != ""
	if brokered {
		aq, err := queue.DialAMQP(cfg.AMQP.URL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("amqp connection failed")
		}
		defer aq.Close()
		q = aq
	} else {
		q = queue.NewMemoryQueue(log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := service.NewManager(campaignRepo, dispatchRepo, q, log)
	completion := service.NewCompletionDetector(campaignRepo, log)

	processor := service.NewProcessor(campaignRepo, customerRepo, dispatchRepo, q, completion, service.ProcessorConfig{
		Concurrency: cfg.Dispatch.ProcessorConcurrency,
		JitterMin:   cfg.Dispatch.JitterMin,
		JitterMax:   cfg.Dispatch.JitterMax,
	}, log)
	if err := processor.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("processor start failed")
	}

	// With a broker configured, dedicated worker processes drain the dispatch
	// topic; otherwise this process runs the dispatch pool itself.
	if !brokered {
		registry := transport.NewRegistry()
		registry.Register(1, transport.NewMockTransport(cfg.Dispatch.MockFailureRate))

		dispatcher := service.NewDispatcher(campaignRepo, dispatchRepo, registry, q, completion, service.DispatcherConfig{
			Concurrency:   cfg.Dispatch.WorkerConcurrency,
			RatePerWindow: cfg.Dispatch.RatePerWindow,
			RateWindow:    cfg.Dispatch.RateWindow,
			MaxAttempts:   cfg.Dispatch.MaxAttempts,
			RetryBase:     cfg.Dispatch.RetryBase,
		}, log)
		if err := dispatcher.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("dispatcher start failed")
		}
	}

	backup := service.NewBackupScheduler(campaignRepo, manager, cfg.Scheduler.PollInterval, log)
	stopBackup, err := backup.Start()
	if err != nil {
		log.Fatal().Err(err).Msg("backup scheduler start failed")
	}
	defer stopBackup()

	campaignController := &controller.CampaignController{
		Manager:   manager,
		Campaigns: campaignRepo,
		Customers: customerRepo,
		Log:       log,
	}
	r := chi.NewRouter()
	campaignController.Routes(r)

	srv := &http.Server{Addr: cfg.App.Addr, Handler: r}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	log.Info().Str("addr", cfg.App.Addr).Bool("brokered", brokered).Msg("server running")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server stopped")
	}
	os.Exit(0)
}
