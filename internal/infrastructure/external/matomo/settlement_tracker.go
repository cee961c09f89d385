package matomo

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
)

const (
	// CategorySettlement groups settlement outcome events
	CategorySettlement = "settlement"
	// CategoryPurchase groups purchase failures reported by the platform
	CategoryPurchase = "purchase"
	// CategoryDownload groups terminal hosted-content download events
	CategoryDownload = "download"

	defaultTrackerBuffer = 256
	trackTimeout         = 15 * time.Second
)

// tracker is the part of Client the SettlementTracker needs
type tracker interface {
	TrackEvent(ctx context.Context, req TrackEventRequest) error
}

// SettlementTracker forwards settlement outcomes to Matomo as events.
// It is a service.Observer; events are queued and sent by Run so the
// coordinator never waits on analytics.
type SettlementTracker struct {
	client tracker
	logger *zap.Logger
	events chan TrackEventRequest

	mu      sync.Mutex
	dropped int
}

// NewSettlementTracker creates a tracker with a bounded queue
func NewSettlementTracker(client tracker, buffer int, logger *zap.Logger) *SettlementTracker {
	if buffer <= 0 {
		buffer = defaultTrackerBuffer
	}
	return &SettlementTracker{
		client: client,
		logger: logger,
		events: make(chan TrackEventRequest, buffer),
	}
}

// PurchaseUpdated queues settlement outcomes and platform failures
func (t *SettlementTracker) PurchaseUpdated(n entity.PurchaseNotification) {
	var req TrackEventRequest
	switch {
	case n.Settlement != entity.SettlementNone:
		req = TrackEventRequest{Category: CategorySettlement, Action: string(n.Settlement)}
	case n.State == entity.PurchaseStateFailed, n.State == entity.PurchaseStateRestoreFailed:
		req = TrackEventRequest{Category: CategoryPurchase, Action: n.State.String()}
	default:
		return
	}

	req.Name = n.ProductIdentifier
	req.VisitorID = n.UserIdentifier
	req.EventTime = n.OccurredAt
	req.CustomVariables = map[string]string{"state": n.State.String()}
	if n.TransactionIdentifier != "" {
		req.CustomVariables["transaction_id"] = n.TransactionIdentifier
	}
	if n.ErrorCode != 0 {
		req.CustomVariables["error_code"] = strconv.Itoa(n.ErrorCode)
	}
	t.enqueue(req)
}

// DownloadUpdated queues terminal download states
func (t *SettlementTracker) DownloadUpdated(n entity.DownloadNotification) {
	switch n.State {
	case entity.DownloadStateSucceeded, entity.DownloadStateFailed, entity.DownloadStateCancelled:
	default:
		return
	}
	t.enqueue(TrackEventRequest{
		Category:  CategoryDownload,
		Action:    n.State.String(),
		Name:      n.ContentIdentifier,
		EventTime: n.OccurredAt,
		CustomVariables: map[string]string{
			"transaction_id": n.TransactionIdentifier,
			"product_id":     n.ProductIdentifier,
		},
	})
}

func (t *SettlementTracker) enqueue(req TrackEventRequest) {
	select {
	case t.events <- req:
	default:
		t.mu.Lock()
		t.dropped++
		dropped := t.dropped
		t.mu.Unlock()
		t.logger.Warn("matomo queue full, event dropped",
			zap.String("category", req.Category),
			zap.String("action", req.Action),
			zap.Int("dropped_total", dropped),
		)
	}
}

// Dropped returns how many events were discarded because the queue was full
func (t *SettlementTracker) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Run sends queued events until ctx is done
func (t *SettlementTracker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-t.events:
			sendCtx, cancel := context.WithTimeout(ctx, trackTimeout)
			if err := t.client.TrackEvent(sendCtx, req); err != nil {
				t.logger.Error("failed to track settlement event",
					zap.String("category", req.Category),
					zap.String("action", req.Action),
					zap.Error(err),
				)
			}
			cancel()
		}
	}
}
