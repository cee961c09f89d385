package command

import (
	"context"
	"encoding/base64"

	"github.com/bivex/storekit-settlement/internal/application/dto"
	domainErrors "github.com/bivex/storekit-settlement/internal/domain/errors"
	"github.com/bivex/storekit-settlement/internal/domain/service"
)

// VerifyReceiptCommand verifies a receipt without settling anything
type VerifyReceiptCommand struct {
	verifier service.ReceiptVerifier
}

// NewVerifyReceiptCommand creates a new verify receipt command
func NewVerifyReceiptCommand(verifier service.ReceiptVerifier) *VerifyReceiptCommand {
	return &VerifyReceiptCommand{verifier: verifier}
}

// Execute executes the verify receipt command
func (c *VerifyReceiptCommand) Execute(ctx context.Context, req *dto.VerifyReceiptRequest) (*dto.VerifyReceiptResponse, error) {
	receipt, err := base64.StdEncoding.DecodeString(req.ReceiptData)
	if err != nil {
		return nil, domainErrors.NewValidationError("receipt_data", "must be base64 encoded")
	}

	result, err := c.verifier.Verify(ctx, receipt)
	if err != nil {
		return nil, err
	}
	return &dto.VerifyReceiptResponse{
		Status:      result.Status,
		Environment: result.Environment,
		Receipt:     result.Payload,
	}, nil
}
