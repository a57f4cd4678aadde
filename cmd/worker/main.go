package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/driplabs/drip-api/config"
	"github.com/driplabs/drip-api/internal/cache"
	"github.com/driplabs/drip-api/internal/dispatch"
	"github.com/driplabs/drip-api/internal/identity"
	"github.com/driplabs/drip-api/internal/lifecycle"
	"github.com/driplabs/drip-api/internal/pipeline"
	"github.com/driplabs/drip-api/internal/repository/postgres"
	reconcileService "github.com/driplabs/drip-api/internal/service/reconcile"
	subscriptionService "github.com/driplabs/drip-api/internal/service/subscription"
	"github.com/driplabs/drip-api/internal/transport"
	"github.com/driplabs/drip-api/internal/worker"
	"github.com/driplabs/drip-api/pkg/logger"
	"github.com/driplabs/drip-api/pkg/messaging/redis"
	"github.com/driplabs/drip-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.FromZerolog(log.Logger)
	m := metrics.NewMetrics("drip", "worker")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	scheduleRepo := postgres.NewScheduleRepository(db)
	messageSetRepo := postgres.NewMessageSetRepository(db)
	messageRepo := cache.NewMessageCache(postgres.NewMessageRepository(db), cfg.Pipeline.CacheTTL)
	subscriptionRepo := postgres.NewSubscriptionRepository(db)
	behindRepo := postgres.NewBehindSubscriptionRepository(db)
	failureRepo := postgres.NewSendFailureRepository(db)
	resendRepo := postgres.NewResendRequestRepository(db)

	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	resolver := identity.NewHTTPResolver(identity.Config{
		BaseURL: cfg.External.IdentityBaseURL,
		Token:   cfg.External.IdentityToken,
		Timeout: cfg.External.Timeout,
	})
	sender := transport.NewHTTPClient(transport.Config{
		BaseURL:       cfg.External.SenderBaseURL,
		Token:         cfg.External.SenderToken,
		Timeout:       cfg.External.Timeout,
		RatePerSecond: cfg.External.SenderRate,
		RateBurst:     cfg.External.SenderBurst,
	})

	projector := lifecycle.NewProjector(scheduleRepo, messageSetRepo, messageRepo, subscriptionRepo, appLogger)
	enqueuer := dispatch.NewEnqueuer(broker, m)

	subscriptionSvc := subscriptionService.NewService(
		subscriptionRepo, messageSetRepo, messageRepo, resendRepo,
		projector, enqueuer, m, appLogger,
	)
	reconcileSvc := reconcileService.NewService(
		subscriptionRepo, behindRepo, failureRepo,
		projector, enqueuer, nil, m, appLogger,
		reconcileService.Config{
			DuplicateWindow:  cfg.Reconcile.DuplicateWindow,
			RequeueBatchSize: cfg.Reconcile.RequeueBatchSize,
		},
	)

	pipe := pipeline.New(
		subscriptionRepo, messageSetRepo, messageRepo, failureRepo, resendRepo,
		resolver, sender, subscriptionSvc, m, appLogger,
		pipeline.Config{
			ContentBaseURL: cfg.Pipeline.ContentBaseURL,
			DryRunSets:     cfg.Pipeline.DryRunSets,
			MaxRetries:     cfg.Pipeline.MaxRetries,
			RetryBaseDelay: cfg.Pipeline.RetryBaseDelay,
			RetryMaxDelay:  cfg.Pipeline.RetryMaxDelay,
		},
	)

	consumer := dispatch.NewConsumer(broker, pipe, m, appLogger)
	behindWorker := worker.NewBehindDetectorWorker(reconcileSvc, cfg.Reconcile.BehindInterval, appLogger)
	requeueWorker := worker.NewFailureRequeueWorker(reconcileSvc, cfg.Reconcile.RequeueInterval, appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("delivery consumer stopped")
		}
	}()
	go func() {
		defer wg.Done()
		behindWorker.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		requeueWorker.Start(ctx)
	}()

	// Expose worker metrics alongside the jobs.
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", nil); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	log.Info().Msg("worker started")
	<-ctx.Done()
	log.Info().Msg("shutting down worker...")
	wg.Wait()
	log.Info().Msg("worker exited properly")
}
