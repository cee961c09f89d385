//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcwait "github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/bivex/storekit-settlement/internal/application/command"
	"github.com/bivex/storekit-settlement/internal/application/middleware"
	"github.com/bivex/storekit-settlement/internal/application/query"
	"github.com/bivex/storekit-settlement/internal/domain/service"
	"github.com/bivex/storekit-settlement/internal/infrastructure/cache"
	"github.com/bivex/storekit-settlement/internal/infrastructure/external/iap"
	"github.com/bivex/storekit-settlement/internal/infrastructure/external/storekit"
	"github.com/bivex/storekit-settlement/internal/infrastructure/persistence/repository"
	"github.com/bivex/storekit-settlement/internal/interfaces/http/handlers"
	"github.com/bivex/storekit-settlement/tests/testutil"
)

const (
	jwtSecret    = "e2e-secret-that-is-at-least-32-characters"
	bridgeSecret = "e2e-bridge-secret"
)

// E2ETestSuite holds the E2E test environment
type E2ETestSuite struct {
	DBContainer    *testutil.TestDBContainer
	RedisContainer testcontainers.Container
	Redis          *redis.Client
	AppStore       *httptest.Server
	APIServer      *httptest.Server
	Coordinator    *service.PurchaseCoordinator
	HTTPClient     *http.Client

	// verifyStatus is the status the fake App Store answers with
	verifyStatus atomic.Int32
	verifyCalls  atomic.Int32
}

// SetupE2ETestSuite starts all required containers and services
func SetupE2ETestSuite(ctx context.Context, t *testing.T) *E2ETestSuite {
	t.Helper()

	suite := &E2ETestSuite{
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	// Start PostgreSQL
	dbContainer, err := testutil.SetupTestDBContainer(ctx, t)
	if err != nil {
		t.Fatalf("failed to start db container: %v", err)
	}
	suite.DBContainer = dbContainer

	// Start Redis
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   tcwait.ForLog("Ready to accept connections").WithOccurrence(1),
		},
		Started: true,
	})
	if err != nil {
		suite.Teardown(ctx, t)
		t.Fatalf("failed to start redis container: %v", err)
	}
	suite.RedisContainer = redisContainer

	addr, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		suite.Teardown(ctx, t)
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	suite.Redis = redis.NewClient(&redis.Options{Addr: addr})

	// Fake verifyReceipt endpoint
	suite.AppStore = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		suite.verifyCalls.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      suite.verifyStatus.Load(),
			"environment": "Production",
			"receipt":     map[string]interface{}{"bundle_id": "com.example.app"},
		})
	}))

	suite.startAPI(ctx, t)
	return suite
}

func (suite *E2ETestSuite) startAPI(ctx context.Context, t *testing.T) {
	t.Helper()
	logger := zap.NewNop()

	verifier := iap.NewAppleVerifier(
		iap.WithSharedSecret("shared"),
		iap.WithEndpoints(suite.AppStore.URL, suite.AppStore.URL),
		iap.WithTimeout(5*time.Second),
	)
	queue := storekit.NewBridgeQueue(suite.Redis, logger)
	facade := service.NewStoreFacade(queue, logger)
	notifications := cache.NewNotificationLog(suite.Redis, logger)
	settled, err := cache.NewSettledCache(cache.DefaultSettledCacheSize)
	if err != nil {
		t.Fatalf("failed to create settled cache: %v", err)
	}

	suite.Coordinator = service.NewPurchaseCoordinator(
		facade,
		repository.NewPostgresStore(suite.DBContainer.Pool),
		verifier,
		settled,
		logger,
	)
	if err := suite.Coordinator.Start(ctx, notifications); err != nil {
		t.Fatalf("failed to start coordinator: %v", err)
	}

	jwtMiddleware := middleware.NewJWTMiddleware(jwtSecret, "storekit-e2e", suite.Redis, time.Hour, logger)
	router := gin.New()
	handlers.RegisterRoutes(router, handlers.Routes{
		Device: handlers.NewDeviceHandler(command.NewRegisterDeviceCommand(jwtMiddleware, bridgeSecret)),
		Store: handlers.NewStoreHandler(
			command.NewRequestProductsCommand(facade),
			command.NewPurchaseCommand(facade),
			command.NewRestoreCommand(facade),
			command.NewRetryTransactionCommand(suite.Coordinator),
			command.NewVerifyReceiptCommand(verifier),
			query.NewPendingTransactionsQuery(suite.Coordinator),
			query.NewNotificationsQuery(notifications),
		),
		Bridge:      handlers.NewBridgeHandler(facade, queue, logger),
		BridgeOwner: queue,
		JWT:         jwtMiddleware,
		RateLimiter: middleware.NewRateLimiter(suite.Redis, true, logger),
		DeviceLimit: middleware.RateLimitConfig{Rate: 1000, Period: time.Minute},
	})
	suite.APIServer = httptest.NewServer(router)
}

// Do sends a JSON request to the API and returns the status and body
func (suite *E2ETestSuite) Do(t *testing.T, method, path, token string, body interface{}) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, suite.APIServer.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := suite.HTTPClient.Do(req)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return resp.StatusCode, data
}

// Teardown cleans up all containers and services
func (suite *E2ETestSuite) Teardown(ctx context.Context, t *testing.T) {
	t.Helper()

	if suite.APIServer != nil {
		suite.APIServer.Close()
	}
	if suite.Coordinator != nil {
		suite.Coordinator.Stop()
	}
	if suite.AppStore != nil {
		suite.AppStore.Close()
	}
	if suite.Redis != nil {
		_ = suite.Redis.Close()
	}
	if suite.RedisContainer != nil {
		if err := suite.RedisContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate redis container: %v", err)
		}
	}
	if suite.DBContainer != nil {
		suite.DBContainer.Teardown(ctx, t)
	}
}
