package query

import (
	"context"
	"fmt"

	"github.com/bivex/storekit-settlement/internal/infrastructure/cache"
)

const maxNotificationsPerDrain = 100

// NotificationDrainer removes delivered notifications from the log
type NotificationDrainer interface {
	Drain(ctx context.Context, limit int) ([]cache.NotificationEnvelope, error)
}

// NotificationsQuery drains the notification log
type NotificationsQuery struct {
	log NotificationDrainer
}

// NewNotificationsQuery creates a new notifications query
func NewNotificationsQuery(log NotificationDrainer) *NotificationsQuery {
	return &NotificationsQuery{log: log}
}

// Execute returns up to limit notifications, oldest first
func (q *NotificationsQuery) Execute(ctx context.Context, limit int) ([]cache.NotificationEnvelope, error) {
	if limit <= 0 || limit > maxNotificationsPerDrain {
		limit = maxNotificationsPerDrain
	}
	items, err := q.log.Drain(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to drain notifications: %w", err)
	}
	return items, nil
}
