package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bivex/storekit-settlement/internal/application/command"
	"github.com/bivex/storekit-settlement/internal/application/middleware"
	"github.com/bivex/storekit-settlement/internal/application/query"
	"github.com/bivex/storekit-settlement/internal/domain/repository"
	"github.com/bivex/storekit-settlement/internal/domain/service"
	"github.com/bivex/storekit-settlement/internal/infrastructure/cache"
	"github.com/bivex/storekit-settlement/internal/infrastructure/config"
	"github.com/bivex/storekit-settlement/internal/infrastructure/external/iap"
	"github.com/bivex/storekit-settlement/internal/infrastructure/external/matomo"
	"github.com/bivex/storekit-settlement/internal/infrastructure/external/storekit"
	"github.com/bivex/storekit-settlement/internal/infrastructure/logging"
	"github.com/bivex/storekit-settlement/internal/infrastructure/persistence/pool"
	store_repo "github.com/bivex/storekit-settlement/internal/infrastructure/persistence/repository"
	app_handler "github.com/bivex/storekit-settlement/internal/interfaces/http/handlers"
	worker_tasks "github.com/bivex/storekit-settlement/internal/worker/tasks"
)

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

	logging.Logger.Info("Starting StoreKit settlement API",
		zap.Int("port", cfg.Server.Port),
		zap.String("environment", cfg.Sentry.Environment),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("rejection_policy", cfg.IAP.RejectionPolicy),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logging.Logger.Fatal("Failed to parse Redis URL", zap.Error(err))
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	opts.PoolSize = cfg.Redis.PoolSize
	opts.MinIdleConns = cfg.Redis.MinIdleConns
	opts.DialTimeout = cfg.Redis.DialTimeout
	opts.ReadTimeout = cfg.Redis.ReadTimeout
	opts.WriteTimeout = cfg.Redis.WriteTimeout
	opts.PoolTimeout = cfg.Redis.PoolTimeout
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logging.Logger.Fatal("Failed to ping Redis", zap.Error(err))
	}

	// Initialize the transaction store
	txStore, closeStore, err := openStore(ctx, cfg, redisClient)
	if err != nil {
		logging.Logger.Fatal("Failed to open transaction store", zap.Error(err))
	}
	defer closeStore()

	// Initialize the store side
	verifier := iap.NewAppleVerifier(
		iap.WithSharedSecret(cfg.IAP.SharedSecret),
		iap.WithEndpoints(cfg.IAP.ProductionURL, cfg.IAP.SandboxURL),
		iap.WithTimeout(cfg.IAP.Timeout),
	)
	bridgeQueue := storekit.NewBridgeQueue(redisClient, logging.WithComponent("bridge_queue"))
	facade := service.NewStoreFacade(bridgeQueue, logging.WithComponent("store_facade"),
		service.WithEventBuffer(cfg.Settlement.EventBuffer),
	)

	notifications := cache.NewNotificationLog(redisClient, logging.WithComponent("notification_log"))
	settled, err := cache.NewSettledCache(cfg.Settlement.SettledCacheSize)
	if err != nil {
		logging.Logger.Fatal("Failed to create settled cache", zap.Error(err))
	}

	coordinatorOpts := []service.CoordinatorOption{
		service.WithRejectionPolicy(rejectionPolicy(cfg.IAP.RejectionPolicy)),
		service.WithReceiptCapture(cfg.Settlement.ReceiptCaptureAttempts, 0),
		service.WithErrorReporter(logging.CaptureError),
	}

	asynqClient := asynq.NewClientFromRedisClient(redisClient)
	defer asynqClient.Close()
	if cfg.Settlement.AutoRetry {
		scheduler := worker_tasks.NewRetryScheduler(asynqClient, logging.WithComponent("retry_scheduler"))
		coordinatorOpts = append(coordinatorOpts,
			service.WithRetryScheduler(scheduler, cfg.Settlement.RetryDelay, cfg.Settlement.RetryMax),
		)
	}

	observers := service.Observers{notifications}
	if cfg.Matomo.URL != "" {
		matomoClient := matomo.NewClient(matomo.Config{
			BaseURL:   cfg.Matomo.URL,
			SiteID:    cfg.Matomo.SiteID,
			TokenAuth: cfg.Matomo.TokenAuth,
			Timeout:   cfg.Matomo.Timeout,
		}, logging.WithComponent("matomo"))
		tracker := matomo.NewSettlementTracker(matomoClient, cfg.Matomo.Buffer, logging.WithComponent("settlement_tracker"))
		go tracker.Run(ctx)
		observers = append(observers, tracker)
	}

	coordinator := service.NewPurchaseCoordinator(facade, txStore, verifier, settled, logging.Logger, coordinatorOpts...)
	if err := coordinator.Start(ctx, observers); err != nil {
		logging.Logger.Fatal("Failed to start purchase coordinator", zap.Error(err))
	}

	started, err := coordinator.RecoverPending(ctx)
	if err != nil {
		logging.Logger.Error("Failed to recover pending transactions", zap.Error(err))
	} else {
		logging.Logger.Info("Recovered pending transactions", zap.Int("count", started))
	}

	// The retry task handler runs next to the coordinator it drives
	taskServer := asynq.NewServerFromRedisClient(redisClient, asynq.Config{
		Concurrency: 4,
		Queues:      worker_tasks.Queues(),
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			// Exponential backoff: 2^n seconds
			return time.Duration(1<<uint(n)) * time.Second
		},
		Logger: logging.WithComponent("asynq").Sugar(),
	})
	mux := asynq.NewServeMux()
	worker_tasks.RegisterHandlers(mux, worker_tasks.NewSettlementJobHandler(coordinator, logging.WithComponent("settlement_jobs")))
	if err := taskServer.Start(mux); err != nil {
		logging.Logger.Fatal("Failed to start task server", zap.Error(err))
	}

	// Initialize middleware
	jwtMiddleware := middleware.NewJWTMiddleware(
		cfg.JWT.Secret,
		cfg.JWT.Issuer,
		redisClient,
		cfg.JWT.AccessTTL,
		logging.WithComponent("jwt"),
	)
	if cfg.JWT.BridgeSecret == "" {
		logging.Logger.Warn("JWT_BRIDGE_SECRET not set, no device can relay payment-queue callbacks")
	}
	rateLimiter := middleware.NewRateLimiter(redisClient, true, logging.WithComponent("rate_limiter")) // fail open

	// Initialize handlers
	deviceHandler := app_handler.NewDeviceHandler(command.NewRegisterDeviceCommand(jwtMiddleware, cfg.JWT.BridgeSecret))
	storeHandler := app_handler.NewStoreHandler(
		command.NewRequestProductsCommand(facade),
		command.NewPurchaseCommand(facade),
		command.NewRestoreCommand(facade),
		command.NewRetryTransactionCommand(coordinator),
		command.NewVerifyReceiptCommand(verifier),
		query.NewPendingTransactionsQuery(coordinator),
		query.NewNotificationsQuery(notifications),
	)
	bridgeHandler := app_handler.NewBridgeHandler(facade, bridgeQueue, logging.WithComponent("bridge_handler"))

	// Setup Gin router
	if cfg.Sentry.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		logging.RequestMiddleware(logging.Logger),
	)

	app_handler.RegisterRoutes(router, app_handler.Routes{
		Device:      deviceHandler,
		Store:       storeHandler,
		Bridge:      bridgeHandler,
		BridgeOwner: bridgeQueue,
		JWT:         jwtMiddleware,
		RateLimiter: rateLimiter,
		DeviceLimit: middleware.RateLimitConfig{Rate: cfg.RateLimit.Rate, Period: cfg.RateLimit.Period},
		Health:      gin.H{"rejection_policy": coordinator.Policy().String()},
	})

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	go func() {
		logging.Logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Logger.Error("Server forced to shutdown", zap.Error(err))
	}
	taskServer.Shutdown()
	verifier.InvalidateAndCancel()
	coordinator.Stop()

	logging.Logger.Info("Server exited")
}

// openStore builds the configured transaction store backend
func openStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (repository.TransactionStore, func(), error) {
	noop := func() {}

	switch cfg.Store.Backend {
	case config.StoreBackendSecure:
		key, err := store_repo.ParseSecretKey(cfg.Store.SecureKey)
		if err != nil {
			return nil, noop, err
		}
		return store_repo.NewSecureStore(redisClient, key), noop, nil
	case config.StoreBackendPreference:
		s, err := store_repo.OpenPreferenceStore(cfg.Store.BoltPath)
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.StoreBackendPostgres:
		dbPool, err := pool.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, noop, err
		}
		return store_repo.NewPostgresStore(dbPool), func() { pool.Close(dbPool) }, nil
	case config.StoreBackendMemory:
		return store_repo.NewMemoryStore(), noop, nil
	}
	return nil, noop, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func rejectionPolicy(name string) service.RejectionPolicy {
	if name == config.RejectionPolicyHold {
		return service.RejectionPolicyHold
	}
	return service.RejectionPolicyFinish
}
