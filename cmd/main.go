package main

import (
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"automation-service/internal/actions"
	"automation-service/internal/api"
	"automation-service/internal/config"
	"automation-service/internal/db"
	"automation-service/internal/engine"
	"automation-service/internal/kafka"
	"automation-service/internal/logging"
	"automation-service/internal/providers"
	"automation-service/internal/redisdb"
	"automation-service/internal/scheduler"
	"automation-service/internal/utils"
	"automation-service/pkg/webhook"
)

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		log.Fatalf("Invalid timezone %q: %v", cfg.Scheduler.Timezone, err)
	}

	// Connect to database
	var dbConn *db.DB
	if err := utils.Retry(logger, 5, 3*time.Second, func() error {
		var err error
		dbConn, err = db.New(cfg.DB.DSN)
		return err
	}); err != nil {
		logger.Errorf("Failed to connect to database: %v", err)
		log.Fatalf("Database connection failed: %v", err)
	}
	defer dbConn.Close()

	// Idempotency registry (optional: without redis the business-record
	// store alone has to dedupe)
	var guard actions.Guard
	if cfg.Redis.Addr != "" {
		redisGuard, err := redisdb.NewGuard(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.IdemTTL)
		if err != nil {
			logger.Errorf("Failed to connect to redis: %v", err)
			log.Fatalf("Redis connection failed: %v", err)
		}
		defer redisGuard.Close()
		guard = redisGuard
	}

	clock := engine.SystemClock{}
	eval := engine.NewEvaluator(clock, loc, logger)

	executor := actions.NewExecutor(
		dbConn,
		providers.NewTwilioSender(cfg),
		providers.NewSMTPSender(cfg),
		providers.NewRecordsClient(cfg.Records.BaseURL),
		webhook.NewClient(cfg.Scheduler.ActionTimeout),
		guard,
		clock,
		logger,
	)

	hub := api.NewHub(logger)

	// Scheduler drives pending executions through their steps
	sched := scheduler.New(dbConn, dbConn, executor, eval, clock, scheduler.Options{
		PollInterval:  cfg.Scheduler.PollInterval,
		ClaimBatch:    cfg.Scheduler.ClaimBatch,
		Workers:       cfg.Scheduler.MaxWorkers,
		ActionTimeout: cfg.Scheduler.ActionTimeout,
		MaxAttempts:   cfg.Scheduler.MaxAttempts,
		BackoffBase:   cfg.Scheduler.BackoffBase,
		BackoffMax:    cfg.Scheduler.BackoffMax,
		StaleAfter:    cfg.Scheduler.StaleAfter,
	}, hub, logger)

	var wg sync.WaitGroup
	sched.Start(&wg)

	// Engine matches incoming events to rules; Kafka feeds it
	eng := engine.New(dbConn, dbConn, eval, clock, logger)
	consumer := kafka.NewConsumer(kafka.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
	}, eng, logger)
	consumer.Start(&wg)

	// Start API server
	router := api.NewRouter(dbConn, logger, cfg, hub)
	go func() {
		logger.Infof("Starting API server on %s", cfg.API.Port)
		if err := router.Run(cfg.API.Port); err != nil {
			logger.Errorf("API server failed: %v", err)
		}
	}()

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Info("Shutting down...")
	consumer.Close()
	sched.Stop()
	wg.Wait()
	logger.Info("Service stopped")
}
