package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/driplabs/drip-api/config"
	"github.com/driplabs/drip-api/internal/dispatch"
	healthHandler "github.com/driplabs/drip-api/internal/handler/health"
	messagesetHandler "github.com/driplabs/drip-api/internal/handler/messageset"
	reconcileHandler "github.com/driplabs/drip-api/internal/handler/reconcile"
	scheduleHandler "github.com/driplabs/drip-api/internal/handler/schedule"
	subscriptionHandler "github.com/driplabs/drip-api/internal/handler/subscription"
	"github.com/driplabs/drip-api/internal/lifecycle"
	"github.com/driplabs/drip-api/internal/middleware"
	"github.com/driplabs/drip-api/internal/repository/postgres"
	"github.com/driplabs/drip-api/internal/router"
	"github.com/driplabs/drip-api/internal/scheduler"
	messagesetService "github.com/driplabs/drip-api/internal/service/messageset"
	reconcileService "github.com/driplabs/drip-api/internal/service/reconcile"
	scheduleService "github.com/driplabs/drip-api/internal/service/schedule"
	subscriptionService "github.com/driplabs/drip-api/internal/service/subscription"
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
	m := metrics.NewMetrics("drip", "api")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	scheduleRepo := postgres.NewScheduleRepository(db)
	messageSetRepo := postgres.NewMessageSetRepository(db)
	messageRepo := postgres.NewMessageRepository(db)
	subscriptionRepo := postgres.NewSubscriptionRepository(db)
	behindRepo := postgres.NewBehindSubscriptionRepository(db)
	failureRepo := postgres.NewSendFailureRepository(db)
	resendRepo := postgres.NewResendRequestRepository(db)

	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	var redisClient *goredis.Client
	if opt, err := goredis.ParseURL(cfg.Redis.URL); err == nil {
		redisClient = goredis.NewClient(opt)
		defer redisClient.Close()
	}

	mirror := scheduler.NewHTTPMirror(scheduler.Config{
		BaseURL: cfg.External.SchedulerBaseURL,
		Token:   cfg.External.SchedulerToken,
		Timeout: cfg.External.Timeout,
	})

	projector := lifecycle.NewProjector(scheduleRepo, messageSetRepo, messageRepo, subscriptionRepo, appLogger)
	enqueuer := dispatch.NewEnqueuer(broker, m)

	scheduleSvc := scheduleService.NewService(scheduleRepo, mirror, appLogger)
	messageSetSvc := messagesetService.NewService(messageSetRepo, messageRepo, appLogger)
	subscriptionSvc := subscriptionService.NewService(
		subscriptionRepo, messageSetRepo, messageRepo, resendRepo,
		projector, enqueuer, m, appLogger,
	)
	reconcileSvc := reconcileService.NewService(
		subscriptionRepo, behindRepo, failureRepo,
		projector, enqueuer, mirror, m, appLogger,
		reconcileService.Config{
			DuplicateWindow:  cfg.Reconcile.DuplicateWindow,
			RequeueBatchSize: cfg.Reconcile.RequeueBatchSize,
		},
	)

	r := router.NewRouter(
		healthHandler.NewHandler(db, redisClient),
		scheduleHandler.NewHandler(scheduleSvc),
		messagesetHandler.NewHandler(messageSetSvc),
		subscriptionHandler.NewHandler(subscriptionSvc),
		reconcileHandler.NewHandler(reconcileSvc),
		router.Config{
			RateLimit:  cfg.RateLimit.RequestsPerSecond,
			RateBurst:  cfg.RateLimit.Burst,
			CORSConfig: middleware.DefaultCORSConfig(),
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
