package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
)

// Cache key constants
const (
	KeyNotifications = "storekit:notifications"
)

const (
	TTLNotifications   = 24 * time.Hour
	maxNotifications   = 1000
	notifyWriteTimeout = 3 * time.Second
)

// Notification kinds
const (
	NotificationPurchase = "purchase"
	NotificationDownload = "download"
)

// NotificationEnvelope is one entry of the notification log
type NotificationEnvelope struct {
	Kind     string                       `json:"kind"`
	Purchase *entity.PurchaseNotification `json:"purchase,omitempty"`
	Download *entity.DownloadNotification `json:"download,omitempty"`
}

// NotificationLog keeps purchase and download notifications in a capped Redis list
// until the UI collaborator drains them.
type NotificationLog struct {
	client *redis.Client
	logger *zap.Logger
}

// NewNotificationLog creates a new notification log
func NewNotificationLog(client *redis.Client, logger *zap.Logger) *NotificationLog {
	return &NotificationLog{
		client: client,
		logger: logger,
	}
}

// PurchaseUpdated appends a purchase notification
func (l *NotificationLog) PurchaseUpdated(n entity.PurchaseNotification) {
	l.append(NotificationEnvelope{Kind: NotificationPurchase, Purchase: &n})
}

// DownloadUpdated appends a download notification
func (l *NotificationLog) DownloadUpdated(n entity.DownloadNotification) {
	l.append(NotificationEnvelope{Kind: NotificationDownload, Download: &n})
}

func (l *NotificationLog) append(env NotificationEnvelope) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyWriteTimeout)
	defer cancel()

	if err := l.Push(ctx, env); err != nil {
		l.logger.Error("failed to append notification", zap.String("kind", env.Kind), zap.Error(err))
	}
}

// Push appends an envelope, trimming the list to its cap
func (l *NotificationLog) Push(ctx context.Context, env NotificationEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, KeyNotifications, data)
		pipe.LTrim(ctx, KeyNotifications, -maxNotifications, -1)
		pipe.Expire(ctx, KeyNotifications, TTLNotifications)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	return nil
}

// Drain removes and returns up to limit notifications, oldest first
func (l *NotificationLog) Drain(ctx context.Context, limit int) ([]NotificationEnvelope, error) {
	if limit <= 0 {
		limit = 100
	}

	var rangeCmd *redis.StringSliceCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rangeCmd = pipe.LRange(ctx, KeyNotifications, 0, int64(limit-1))
		pipe.LTrim(ctx, KeyNotifications, int64(limit), -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to drain notifications: %w", err)
	}

	items := rangeCmd.Val()
	out := make([]NotificationEnvelope, 0, len(items))
	for _, item := range items {
		var env NotificationEnvelope
		if err := json.Unmarshal([]byte(item), &env); err != nil {
			l.logger.Warn("dropping malformed notification", zap.Error(err))
			continue
		}
		out = append(out, env)
	}
	return out, nil
}
