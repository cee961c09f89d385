package command

import (
	"context"

	"github.com/bivex/storekit-settlement/internal/application/dto"
	domainErrors "github.com/bivex/storekit-settlement/internal/domain/errors"
)

// Purchaser adds payments and restores to the payment queue
type Purchaser interface {
	CanMakePayments(ctx context.Context) bool
	Purchase(ctx context.Context, productID, userID string, quantity int) error
	RestoreTransactions(ctx context.Context, userID string) error
}

// PurchaseCommand handles purchases
type PurchaseCommand struct {
	store Purchaser
}

// NewPurchaseCommand creates a new purchase command
func NewPurchaseCommand(store Purchaser) *PurchaseCommand {
	return &PurchaseCommand{store: store}
}

// Execute adds the payment. The outcome arrives later as notifications.
func (c *PurchaseCommand) Execute(ctx context.Context, userID string, req *dto.PurchaseRequest) (*dto.PurchaseResponse, error) {
	if !c.store.CanMakePayments(ctx) {
		return nil, domainErrors.ErrPaymentsNotAllowed
	}

	quantity := req.Quantity
	if quantity < 1 {
		quantity = 1
	}
	if err := c.store.Purchase(ctx, req.ProductID, userID, quantity); err != nil {
		return nil, err
	}
	return &dto.PurchaseResponse{
		ProductID: req.ProductID,
		Quantity:  quantity,
		Status:    "queued",
	}, nil
}

// RestoreCommand handles restoring completed transactions
type RestoreCommand struct {
	store Purchaser
}

// NewRestoreCommand creates a new restore command
func NewRestoreCommand(store Purchaser) *RestoreCommand {
	return &RestoreCommand{store: store}
}

// Execute asks the platform to redeliver the user's completed transactions
func (c *RestoreCommand) Execute(ctx context.Context, userID string) error {
	return c.store.RestoreTransactions(ctx, userID)
}
