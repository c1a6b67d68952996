package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alphagov/pay-connector-sub018/internal/config"
	"github.com/alphagov/pay-connector-sub018/internal/gateway"
	"github.com/alphagov/pay-connector-sub018/internal/handler"
	"github.com/alphagov/pay-connector-sub018/internal/infrastructure/cache"
	"github.com/alphagov/pay-connector-sub018/internal/infrastructure/database"
	"github.com/alphagov/pay-connector-sub018/internal/infrastructure/lock"
	"github.com/alphagov/pay-connector-sub018/internal/infrastructure/mq"
	"github.com/alphagov/pay-connector-sub018/internal/job"
	"github.com/alphagov/pay-connector-sub018/internal/ledger"
	"github.com/alphagov/pay-connector-sub018/internal/queue"
	"github.com/alphagov/pay-connector-sub018/internal/repository"
	"github.com/alphagov/pay-connector-sub018/internal/service"
	"github.com/alphagov/pay-connector-sub018/pkg/idgen"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig("config/config.yaml")

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	idgen.Init(1)

	db := database.InitMySQL(&cfg.MySQL)
	redisClient := cache.InitRedis(&cfg.Redis)

	notifier, err := mq.NewNotificationPublisher(&cfg.Kafka)
	if err != nil {
		log.Fatal("kafka init failed", zap.Error(err))
	}
	defer notifier.Close()

	chargeRepo := repository.NewChargeRepository(db)
	refundRepo := repository.NewRefundRepository(db)
	transitionRepo := repository.NewTransitionEventRepository(db)
	emissionRepo := repository.NewEmissionRepository(db)

	ledgerClient := ledger.NewClient(cfg.Ledger.BaseURL, time.Duration(cfg.Ledger.TimeoutSeconds)*time.Second)
	metrics := service.NewCounterMetrics()
	jobLock := lock.NewJobLock(redisClient)

	transitionQueue := queue.New()
	transitionService := service.NewTransitionService(transitionQueue, transitionRepo, emissionRepo, metrics, log)
	if cfg.Business.QueueInitialDelayMillis > 0 {
		transitionService.WithInitialDelay(time.Duration(cfg.Business.QueueInitialDelayMillis) * time.Millisecond)
	}
	factory := service.NewEventFactory(transitionRepo, chargeRepo, refundRepo, gateway.NewDefaultRefundCalculator(), log)
	parityService := service.NewParityService(chargeRepo, refundRepo, ledgerClient, metrics, log)
	expungeService := service.NewExpungeService(chargeRepo, refundRepo, parityService, metrics, log,
		time.Duration(cfg.Business.ExpungeMinimumAgeDays)*24*time.Hour,
		time.Duration(cfg.Business.ExpungeExcludeWindowHours)*time.Hour,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	emitter := job.NewEmitter(transitionQueue, factory, emissionRepo, ledgerClient, notifier, log)
	go emitter.Start(ctx)

	sweeper := job.NewSweeper(emissionRepo, factory, ledgerClient, jobLock, log,
		time.Duration(cfg.Business.SweepIntervalSeconds)*time.Second,
		time.Duration(cfg.Business.SweepGraceSeconds)*time.Second,
		cfg.Business.SweepBatchSize,
	)
	go sweeper.Start(ctx)

	expiryJob := job.NewChargeExpiryJob(db, chargeRepo, transitionService, log,
		time.Duration(cfg.Business.ExpiryIntervalSeconds)*time.Second,
		time.Duration(cfg.Business.ChargeTTLMinutes)*time.Minute,
		cfg.Business.ExpiryBatchSize,
	)
	go expiryJob.Start(ctx)

	expungerJob := job.NewExpungerJob(expungeService, jobLock, log,
		time.Duration(cfg.Business.ExpungeIntervalMinutes)*time.Minute,
		cfg.Business.ExpungeBatchSize,
	)
	go expungerJob.Start(ctx)

	h := handler.NewHandler(chargeRepo, parityService, expungeService, log)
	router := handler.SetupRouter(h, log)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("connector listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	// Stop the workers first so nothing new is drained, then drain HTTP.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", zap.Error(err))
	}

	log.Info("stopped")
}
