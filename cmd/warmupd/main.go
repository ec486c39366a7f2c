package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mailwarm/internal/config"
	"mailwarm/internal/handler"
	"mailwarm/internal/httpserver"
	"mailwarm/internal/jobstore"
	"mailwarm/internal/ledger"
	"mailwarm/internal/model"
	"mailwarm/internal/mqhandler"
	"mailwarm/internal/plan"
	"mailwarm/internal/repository"
	"mailwarm/internal/scheduler"
	"mailwarm/pkg/db"
	"mailwarm/pkg/logger"
	"mailwarm/pkg/mq"
	"mailwarm/pkg/redisclient"
	"mailwarm/pkg/util"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting warmup scheduling engine...")

	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	rdb := redisclient.New(cfg.Redis)
	defer rdb.Close()

	warmupRepo := repository.NewWarmupAccountRepository(dbConn)
	poolRepo := repository.NewPoolAccountRepository(dbConn)
	sources := repository.DefaultSources(dbConn)

	// Cap resolution: warmup caps come from progression fields, probed
	// through the ordered source list; pool caps are static configuration.
	resolveCap := func(ctx context.Context, email string, role model.Role) (int, error) {
		switch role {
		case model.RolePool:
			p, err := poolRepo.FindByEmail(ctx, email)
			if err != nil {
				return cfg.Warmup.PoolDailyCap, nil
			}
			if p.DailyCap <= 0 {
				return cfg.Warmup.PoolDailyCap, nil
			}
			return p.DailyCap, nil
		default:
			a, err := repository.FindInSources(ctx, sources, email)
			if err != nil {
				return 0, err
			}
			return a.TargetVolume(), nil
		}
	}

	ldg := ledger.New(rdb, resolveCap, log)
	store := jobstore.New(rdb, log)
	marker := util.NewMarker(rdb, log)

	gen := plan.NewGenerator(plan.Config{
		SendWindow: cfg.Warmup.SendWindow,
		MinGap:     cfg.Warmup.MinGap,
	}, rand.New(rand.NewSource(time.Now().UnixNano())))

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("MQ publisher initialization failed", zap.Error(err))
	}
	defer publisher.Close()

	dispatcher := scheduler.NewDispatcher(publisher, log)

	orch := scheduler.New(
		warmupRepo, poolRepo, ldg, store, gen, dispatcher, marker, cfg.Warmup, log,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Recovery runs inside Start, before the first cycle.
	orch.Start(ctx)

	startConsumers(cfg, orch, log)

	adminHandler := handler.NewAdminHandler(orch, ldg, log)
	router := httpserver.NewRouter(adminHandler, cfg.JWT.Secret)
	go func() {
		if err := router.Run(":" + cfg.Server.Port); err != nil {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")
	cancel()
	orch.Stop()
}

func startConsumers(cfg *config.Config, orch *scheduler.Orchestrator, log *zap.Logger) {
	requeue := func(err error) bool {
		retryable, _ := util.IsRetryableError(err)
		return retryable
	}

	statusConsumer, err := mq.NewConsumer(
		cfg.MQ.URL, "warmup.account_status.scheduler", mq.RoutingKeyAccountStatus, log,
	)
	if err != nil {
		log.Fatal("Account status consumer initialization failed", zap.Error(err))
	}
	statusHandler := mqhandler.NewAccountStatusHandler(orch, log)
	statusConsumer.SetHandler(statusHandler.Handle)
	statusConsumer.SetRequeueDecider(requeue)

	triggerConsumer, err := mq.NewConsumer(
		cfg.MQ.URL, "warmup.trigger.scheduler", mq.RoutingKeyTrigger, log,
	)
	if err != nil {
		log.Fatal("Trigger consumer initialization failed", zap.Error(err))
	}
	triggerHandler := mqhandler.NewTriggerHandler(orch, log)
	triggerConsumer.SetHandler(triggerHandler.Handle)
	triggerConsumer.SetRequeueDecider(requeue)

	go func() {
		if err := statusConsumer.StartConsuming(); err != nil {
			log.Fatal("Account status consumer failed", zap.Error(err))
		}
	}()
	go func() {
		if err := triggerConsumer.StartConsuming(); err != nil {
			log.Fatal("Trigger consumer failed", zap.Error(err))
		}
	}()
}
