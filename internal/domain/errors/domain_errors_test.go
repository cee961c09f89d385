package errors_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	domainErrors "github.com/bivex/storekit-settlement/internal/domain/errors"
)

func TestErrorTaxonomy(t *testing.T) {
	t.Run("network errors are retryable", func(t *testing.T) {
		err := fmt.Errorf("verify: %w", &domainErrors.NetworkError{Op: "POST verifyReceipt", Err: context.DeadlineExceeded})

		assert.True(t, errors.Is(err, domainErrors.ErrNetwork))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
		assert.True(t, domainErrors.IsRetryable(err))
		assert.False(t, domainErrors.IsDefinitiveRejection(err))
		assert.Equal(t, domainErrors.CodeNetwork, domainErrors.Code(err))
	})

	t.Run("definitive rejection", func(t *testing.T) {
		err := domainErrors.NewVerificationError(21003, nil)

		assert.True(t, errors.Is(err, domainErrors.ErrVerificationRejected))
		assert.False(t, errors.Is(err, domainErrors.ErrNetwork))
		assert.False(t, domainErrors.IsRetryable(err))
		assert.True(t, domainErrors.IsDefinitiveRejection(err))
		assert.Equal(t, 21003, domainErrors.Code(err))
		assert.Equal(t, "The receipt could not be authenticated.", domainErrors.Message(err))
	})

	t.Run("environment status is retryable", func(t *testing.T) {
		err := domainErrors.NewVerificationError(21005, nil)

		assert.True(t, domainErrors.IsRetryable(err))
		assert.False(t, domainErrors.IsDefinitiveRejection(err))
	})

	t.Run("verification error keeps its cause", func(t *testing.T) {
		cause := errors.New("status 21010: unauthorized")
		err := domainErrors.NewVerificationError(21010, cause)

		assert.True(t, errors.Is(err, cause))
		assert.True(t, errors.Is(err, domainErrors.ErrVerificationRejected))
	})

	t.Run("store errors carry codes", func(t *testing.T) {
		assert.Equal(t, 136, domainErrors.Code(domainErrors.NewInvalidParameterError("empty")))
		assert.Equal(t, 100, domainErrors.Code(domainErrors.NewUnknownProductError("x")))
		assert.Equal(t, 300, domainErrors.Code(domainErrors.NewDownloadCancelledError()))
		assert.True(t, errors.Is(domainErrors.NewPlatformCancelledError("cancelled"), domainErrors.ErrPlatformCancelled))
		assert.False(t, domainErrors.IsRetryable(domainErrors.NewInvalidParameterError("empty")))
	})

	t.Run("validation errors are invalid parameters", func(t *testing.T) {
		err := domainErrors.NewRequiredFieldError("product_id")

		assert.True(t, errors.Is(err, domainErrors.ErrInvalidParameter))
		assert.True(t, errors.Is(err, domainErrors.ErrRequiredField))
		assert.Contains(t, err.Error(), "product_id")
	})
}
