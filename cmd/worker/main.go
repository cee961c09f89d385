package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bivex/storekit-settlement/internal/infrastructure/config"
	"github.com/bivex/storekit-settlement/internal/infrastructure/logging"
	worker_tasks "github.com/bivex/storekit-settlement/internal/worker/tasks"
)

// The worker only owns the periodic schedule. Settlement tasks are handled by
// the API process, which hosts the purchase coordinator.
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := logging.Init(&cfg.Sentry); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logging.Sync()

	logging.Logger.Info("Starting settlement scheduler",
		zap.String("recovery_cron", cfg.Settlement.RecoveryCron),
	)

	// Initialize Redis
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logging.Logger.Fatal("Failed to parse Redis URL", zap.Error(err))
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	opts.PoolSize = cfg.Redis.PoolSize
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	// Test Redis connection
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logging.Logger.Fatal("Failed to ping Redis", zap.Error(err))
	}

	// Register scheduled tasks
	scheduler := asynq.NewSchedulerFromRedisClient(redisClient, &asynq.SchedulerOpts{
		Logger: logging.WithComponent("asynq_scheduler").Sugar(),
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				logging.Logger.Warn("Scheduled task enqueue failed", zap.Error(err))
				return
			}
			logging.Logger.Debug("Scheduled task enqueued",
				zap.String("type", info.Type),
				zap.String("queue", info.Queue),
			)
		},
	})
	if err := worker_tasks.RegisterScheduledTasks(scheduler, cfg.Settlement.RecoveryCron, logging.Logger); err != nil {
		logging.Logger.Fatal("Failed to register scheduled tasks", zap.Error(err))
	}

	// Start scheduler
	if err := scheduler.Start(); err != nil {
		logging.Logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	logging.Logger.Info("Scheduler started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Logger.Info("Shutting down scheduler...")

	scheduler.Shutdown()

	logging.Logger.Info("Scheduler exited")
}
