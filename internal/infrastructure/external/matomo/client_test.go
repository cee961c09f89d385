package matomo_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
	"github.com/bivex/storekit-settlement/internal/infrastructure/external/matomo"
)

type recordedHit struct {
	path   string
	values url.Values
}

func newMatomoServer(t *testing.T, statuses ...int) (*httptest.Server, func() []recordedHit) {
	t.Helper()
	var (
		mu    sync.Mutex
		hits  []recordedHit
		calls atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		mu.Lock()
		hits = append(hits, recordedHit{path: r.URL.Path, values: r.PostForm})
		mu.Unlock()

		n := int(calls.Add(1)) - 1
		if n < len(statuses) {
			w.WriteHeader(statuses[n])
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedHit {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedHit(nil), hits...)
	}
}

func newClient(url string) *matomo.Client {
	return matomo.NewClient(matomo.Config{
		BaseURL:    url,
		SiteID:     "7",
		TokenAuth:  "token",
		RetryDelay: time.Millisecond,
	}, zap.NewNop())
}

func TestClient_TrackEvent(t *testing.T) {
	t.Run("sends the event parameters", func(t *testing.T) {
		srv, hits := newMatomoServer(t)
		client := newClient(srv.URL)

		err := client.TrackEvent(context.Background(), matomo.TrackEventRequest{
			Category:        "settlement",
			Action:          "verified",
			Name:            "com.example.coins",
			VisitorID:       "user-1",
			CustomVariables: map[string]string{"transaction_id": "tx-1"},
		})
		require.NoError(t, err)

		got := hits()
		require.Len(t, got, 1)
		assert.Equal(t, "/matomo.php", got[0].path)
		v := got[0].values
		assert.Equal(t, "1", v.Get("rec"))
		assert.Equal(t, "7", v.Get("idsite"))
		assert.Equal(t, "settlement", v.Get("e_c"))
		assert.Equal(t, "verified", v.Get("e_a"))
		assert.Equal(t, "com.example.coins", v.Get("e_n"))
		assert.Equal(t, "user-1", v.Get("uid"))
		assert.Equal(t, "transaction_id", v.Get("cvar[1][0]"))
		assert.Equal(t, "tx-1", v.Get("cvar[1][1]"))
	})

	t.Run("retries server errors", func(t *testing.T) {
		srv, hits := newMatomoServer(t, http.StatusBadGateway, http.StatusServiceUnavailable)
		client := newClient(srv.URL)

		require.NoError(t, client.HealthCheck(context.Background()))
		assert.Len(t, hits(), 3)
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		srv, hits := newMatomoServer(t, http.StatusBadRequest)
		client := newClient(srv.URL)

		err := client.TrackEvent(context.Background(), matomo.TrackEventRequest{Category: "c", Action: "a"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "400")
		assert.Len(t, hits(), 1)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		srv, hits := newMatomoServer(t, 500, 500, 500, 500, 500)
		client := newClient(srv.URL)

		err := client.TrackEvent(context.Background(), matomo.TrackEventRequest{Category: "c", Action: "a"})
		require.Error(t, err)
		assert.Len(t, hits(), 4)
	})
}

func TestSettlementTracker(t *testing.T) {
	t.Run("forwards settlement outcomes and failures only", func(t *testing.T) {
		srv, hits := newMatomoServer(t)
		tracker := matomo.NewSettlementTracker(newClient(srv.URL), 8, zap.NewNop())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go tracker.Run(ctx)

		tracker.PurchaseUpdated(entity.PurchaseNotification{State: entity.PurchaseStatePurchasing})
		tracker.PurchaseUpdated(entity.PurchaseNotification{
			State:                 entity.PurchaseStateSucceeded,
			Settlement:            entity.SettlementRejected,
			ProductIdentifier:     "com.example.coins",
			TransactionIdentifier: "tx-9",
			ErrorCode:             21003,
		})
		tracker.PurchaseUpdated(entity.PurchaseNotification{State: entity.PurchaseStateFailed, ErrorCode: 100})
		tracker.DownloadUpdated(entity.DownloadNotification{State: entity.DownloadStateInProgress})
		tracker.DownloadUpdated(entity.DownloadNotification{State: entity.DownloadStateSucceeded, ContentIdentifier: "pack"})

		require.Eventually(t, func() bool { return len(hits()) == 3 }, time.Second, 5*time.Millisecond)

		got := hits()
		assert.Equal(t, "settlement", got[0].values.Get("e_c"))
		assert.Equal(t, "rejected", got[0].values.Get("e_a"))
		assert.Equal(t, "purchase", got[1].values.Get("e_c"))
		assert.Equal(t, "failed", got[1].values.Get("e_a"))
		assert.Equal(t, "download", got[2].values.Get("e_c"))
		assert.Equal(t, "pack", got[2].values.Get("e_n"))
	})

	t.Run("drops events when the queue is full", func(t *testing.T) {
		tracker := matomo.NewSettlementTracker(newClient("http://127.0.0.1:0"), 1, zap.NewNop())

		failed := entity.PurchaseNotification{State: entity.PurchaseStateFailed}
		tracker.PurchaseUpdated(failed)
		tracker.PurchaseUpdated(failed)
		tracker.PurchaseUpdated(failed)

		assert.Equal(t, 2, tracker.Dropped())
	})
}
