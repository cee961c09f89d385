package storekit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bivex/storekit-settlement/internal/domain/entity"
	domainErrors "github.com/bivex/storekit-settlement/internal/domain/errors"
)

// Redis keys
const (
	KeyCommands        = "storekit:commands"
	KeyReceipt         = "storekit:receipt"
	KeyCanMakePayments = "storekit:can_make_payments"
	KeyDevice          = "storekit:device"
)

const (
	canMakePaymentsTTL = 24 * time.Hour
	deviceClaimTTL     = 24 * time.Hour
	maxCommands        = 500
)

// pushScript appends a command unless the device has fallen maxCommands behind
var pushScript = redis.NewScript(`
if redis.call('LLEN', KEYS[1]) >= tonumber(ARGV[2]) then
	return -1
end
return redis.call('RPUSH', KEYS[1], ARGV[1])
`)

// claimScript binds the queue to a device, refreshing the binding for its holder
var claimScript = redis.NewScript(`
local owner = redis.call('GET', KEYS[1])
if owner and owner ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
return 1
`)

// Command types sent to the device
const (
	CommandRequestProducts = "request_products"
	CommandAddPayment      = "add_payment"
	CommandRestore         = "restore"
	CommandFinish          = "finish"
	CommandStartDownloads  = "start_downloads"
	CommandRefreshReceipt  = "refresh_receipt"
)

// Command is one instruction for the device-side payment queue
type Command struct {
	ID                    uuid.UUID       `json:"id"`
	Type                  string          `json:"type"`
	ProductIdentifiers    []string        `json:"product_identifiers,omitempty"`
	Payment               *entity.Payment `json:"payment,omitempty"`
	UserIdentifier        string          `json:"user_identifier,omitempty"`
	TransactionIdentifier string          `json:"transaction_identifier,omitempty"`
	ContentIdentifiers    []string        `json:"content_identifiers,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

// BridgeQueue is a payment queue whose platform side runs on a device.
// Requests are queued in Redis for the device to drain; the device reports
// results back through the StoreFacade callbacks.
type BridgeQueue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewBridgeQueue creates a new bridge queue
func NewBridgeQueue(client *redis.Client, logger *zap.Logger) *BridgeQueue {
	return &BridgeQueue{
		client: client,
		logger: logger,
	}
}

// ClaimDevice binds the payment queue to deviceID.
// The binding lapses after a day without bridge traffic from its device.
func (q *BridgeQueue) ClaimDevice(ctx context.Context, deviceID string) error {
	ok, err := claimScript.Run(ctx, q.client, []string{KeyDevice}, deviceID, int64(deviceClaimTTL/time.Second)).Int()
	if err != nil {
		return fmt.Errorf("failed to claim payment queue: %w", err)
	}
	if ok == 0 {
		return domainErrors.ErrBridgeAccessDenied
	}
	return nil
}

// CanMakePayments returns the restriction state last reported by the device
func (q *BridgeQueue) CanMakePayments(ctx context.Context) bool {
	v, err := q.client.Get(ctx, KeyCanMakePayments).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			q.logger.Warn("failed to read payment restriction", zap.Error(err))
		}
		return false
	}
	return v == "1"
}

// SetCanMakePayments stores the restriction state reported by the device
func (q *BridgeQueue) SetCanMakePayments(ctx context.Context, allowed bool) error {
	v := "0"
	if allowed {
		v = "1"
	}
	if err := q.client.Set(ctx, KeyCanMakePayments, v, canMakePaymentsTTL).Err(); err != nil {
		return fmt.Errorf("failed to store payment restriction: %w", err)
	}
	return nil
}

func (q *BridgeQueue) StartProductRequest(ctx context.Context, productIDs []string) error {
	return q.push(ctx, Command{Type: CommandRequestProducts, ProductIdentifiers: productIDs})
}

func (q *BridgeQueue) AddPayment(ctx context.Context, payment entity.Payment) error {
	return q.push(ctx, Command{Type: CommandAddPayment, Payment: &payment, UserIdentifier: payment.UserIdentifier})
}

func (q *BridgeQueue) RestoreCompletedTransactions(ctx context.Context, userID string) error {
	return q.push(ctx, Command{Type: CommandRestore, UserIdentifier: userID})
}

func (q *BridgeQueue) FinishTransaction(ctx context.Context, transactionID string) error {
	return q.push(ctx, Command{Type: CommandFinish, TransactionIdentifier: transactionID})
}

func (q *BridgeQueue) StartDownloads(ctx context.Context, transactionID string, contentIDs []string) error {
	return q.push(ctx, Command{Type: CommandStartDownloads, TransactionIdentifier: transactionID, ContentIdentifiers: contentIDs})
}

func (q *BridgeQueue) StartReceiptRefresh(ctx context.Context) error {
	return q.push(ctx, Command{Type: CommandRefreshReceipt})
}

// ReceiptData returns the receipt last uploaded by the device, nil if there is none
func (q *BridgeQueue) ReceiptData(ctx context.Context) ([]byte, error) {
	encoded, err := q.client.Get(ctx, KeyReceipt).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode receipt: %w", err)
	}
	return data, nil
}

// SetReceipt stores the receipt uploaded by the device
func (q *BridgeQueue) SetReceipt(ctx context.Context, receipt []byte) error {
	if len(receipt) == 0 {
		return nil
	}
	if err := q.client.Set(ctx, KeyReceipt, base64.StdEncoding.EncodeToString(receipt), 0).Err(); err != nil {
		return fmt.Errorf("failed to store receipt: %w", err)
	}
	return nil
}

// DrainCommands removes and returns up to limit commands, oldest first
func (q *BridgeQueue) DrainCommands(ctx context.Context, limit int) ([]Command, error) {
	if limit <= 0 {
		limit = 50
	}

	var rangeCmd *redis.StringSliceCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rangeCmd = pipe.LRange(ctx, KeyCommands, 0, int64(limit-1))
		pipe.LTrim(ctx, KeyCommands, int64(limit), -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to drain commands: %w", err)
	}

	items := rangeCmd.Val()
	commands := make([]Command, 0, len(items))
	for _, item := range items {
		var cmd Command
		if err := json.Unmarshal([]byte(item), &cmd); err != nil {
			q.logger.Warn("dropping malformed command", zap.Error(err))
			continue
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}

func (q *BridgeQueue) push(ctx context.Context, cmd Command) error {
	cmd.ID = uuid.New()
	cmd.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal %s command: %w", cmd.Type, err)
	}

	n, err := pushScript.Run(ctx, q.client, []string{KeyCommands}, data, maxCommands).Int()
	if err != nil {
		return fmt.Errorf("failed to queue %s command: %w", cmd.Type, err)
	}
	if n < 0 {
		q.logger.Warn("command queue full", zap.String("type", cmd.Type), zap.Int("limit", maxCommands))
		return fmt.Errorf("failed to queue %s command: %w", cmd.Type, domainErrors.ErrCommandQueueFull)
	}

	q.logger.Debug("command queued", zap.String("type", cmd.Type), zap.String("command_id", cmd.ID.String()))
	return nil
}
