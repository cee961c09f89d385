package command_test

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bivex/storekit-settlement/internal/application/command"
	"github.com/bivex/storekit-settlement/internal/application/dto"
	"github.com/bivex/storekit-settlement/internal/domain/entity"
	domainErrors "github.com/bivex/storekit-settlement/internal/domain/errors"
	"github.com/bivex/storekit-settlement/internal/domain/service"
	"github.com/bivex/storekit-settlement/tests/mocks"
)

func TestVerifyReceiptCommand(t *testing.T) {
	ctx := context.Background()

	t.Run("verified receipt", func(t *testing.T) {
		verifier := mocks.NewMockReceiptVerifier()
		verifier.On("Verify", ctx, []byte("receipt")).Return(&entity.ReceiptVerification{
			Status:      0,
			Environment: "Sandbox",
			Payload:     map[string]interface{}{"status": float64(0)},
		}, nil)
		cmd := command.NewVerifyReceiptCommand(verifier)

		resp, err := cmd.Execute(ctx, &dto.VerifyReceiptRequest{ReceiptData: base64.StdEncoding.EncodeToString([]byte("receipt"))})
		require.NoError(t, err)
		assert.Equal(t, 0, resp.Status)
		assert.Equal(t, "Sandbox", resp.Environment)
	})

	t.Run("invalid base64 is a validation error", func(t *testing.T) {
		cmd := command.NewVerifyReceiptCommand(mocks.NewMockReceiptVerifier())

		_, err := cmd.Execute(ctx, &dto.VerifyReceiptRequest{ReceiptData: "%%%"})
		assert.ErrorIs(t, err, domainErrors.ErrInvalidParameter)
	})

	t.Run("rejection is returned", func(t *testing.T) {
		verifier := mocks.NewMockReceiptVerifier()
		verifier.On("Verify", ctx, mock.Anything).Return(nil, domainErrors.NewVerificationError(21003, nil))
		cmd := command.NewVerifyReceiptCommand(verifier)

		_, err := cmd.Execute(ctx, &dto.VerifyReceiptRequest{ReceiptData: "cmVjZWlwdA=="})
		assert.True(t, domainErrors.IsDefinitiveRejection(err))
	})
}

func TestPurchaseCommand(t *testing.T) {
	ctx := context.Background()

	newStore := func(queue *mocks.FakePaymentQueue) *service.StoreFacade {
		f := service.NewStoreFacade(queue, zap.NewNop())
		f.ProductsReceived([]entity.Product{{Identifier: "com.example.coins"}}, nil)
		return f
	}

	t.Run("payment is queued", func(t *testing.T) {
		queue := mocks.NewFakePaymentQueue(nil)
		cmd := command.NewPurchaseCommand(newStore(queue))

		resp, err := cmd.Execute(ctx, "user-1", &dto.PurchaseRequest{ProductID: "com.example.coins"})
		require.NoError(t, err)
		assert.Equal(t, 1, resp.Quantity)
		assert.Equal(t, "queued", resp.Status)
		require.Len(t, queue.Payments(), 1)
		assert.Equal(t, "user-1", queue.Payments()[0].UserIdentifier)
	})

	t.Run("restricted device cannot pay", func(t *testing.T) {
		queue := mocks.NewFakePaymentQueue(nil)
		queue.SetCanMakePayments(false)
		cmd := command.NewPurchaseCommand(newStore(queue))

		_, err := cmd.Execute(ctx, "user-1", &dto.PurchaseRequest{ProductID: "com.example.coins"})
		assert.ErrorIs(t, err, domainErrors.ErrPaymentsNotAllowed)
		assert.Empty(t, queue.Payments())
	})

	t.Run("restore forwards the user", func(t *testing.T) {
		queue := mocks.NewFakePaymentQueue(nil)
		cmd := command.NewRestoreCommand(newStore(queue))

		require.NoError(t, cmd.Execute(ctx, "user-9"))
		assert.Equal(t, []string{"user-9"}, queue.Restores())
	})
}

func TestRequestProductsCommand(t *testing.T) {
	queue := mocks.NewFakePaymentQueue(nil)
	f := service.NewStoreFacade(queue, zap.NewNop())
	queue.OnProductRequest = func(ids []string) {
		f.ProductsReceived([]entity.Product{{Identifier: ids[0], Title: "Coins"}}, ids[1:])
	}
	cmd := command.NewRequestProductsCommand(f)

	resp, err := cmd.Execute(context.Background(), &dto.RequestProductsRequest{ProductIDs: []string{"com.example.coins", "com.example.gone"}})
	require.NoError(t, err)
	require.Len(t, resp.Products, 1)
	assert.Equal(t, "Coins", resp.Products[0].Title)
	assert.Equal(t, []string{"com.example.gone"}, resp.InvalidIdentifiers)
}

type retrierFunc func(ctx context.Context, id string) error

func (f retrierFunc) Retry(ctx context.Context, id string) error { return f(ctx, id) }

func TestRetryTransactionCommand(t *testing.T) {
	ctx := context.Background()

	t.Run("empty id is rejected", func(t *testing.T) {
		cmd := command.NewRetryTransactionCommand(retrierFunc(func(context.Context, string) error { return nil }))
		assert.ErrorIs(t, cmd.Execute(ctx, ""), domainErrors.ErrInvalidParameter)
	})

	t.Run("not found is preserved", func(t *testing.T) {
		cmd := command.NewRetryTransactionCommand(retrierFunc(func(context.Context, string) error {
			return domainErrors.ErrTransactionNotFound
		}))
		assert.ErrorIs(t, cmd.Execute(ctx, "tx-1"), domainErrors.ErrTransactionNotFound)
	})
}

type fakeIssuer struct {
	err error
}

func (f fakeIssuer) GenerateAccessToken(userID, deviceID string, bridge bool) (string, string, error) {
	if bridge {
		return userID + "." + deviceID + ".bridge", "jti", f.err
	}
	return userID + "." + deviceID, "jti", f.err
}

func (fakeIssuer) AccessTTL() time.Duration { return time.Hour }

func TestRegisterDeviceCommand(t *testing.T) {
	ctx := context.Background()

	resp, err := command.NewRegisterDeviceCommand(fakeIssuer{}, "bridge-secret").Execute(ctx, &dto.RegisterDeviceRequest{UserID: "u", DeviceID: "d"})
	require.NoError(t, err)
	assert.Equal(t, "u.d", resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	_, err = command.NewRegisterDeviceCommand(fakeIssuer{}, "bridge-secret").Execute(ctx, &dto.RegisterDeviceRequest{UserID: "u"})
	assert.ErrorIs(t, err, domainErrors.ErrRequiredField)

	_, err = command.NewRegisterDeviceCommand(fakeIssuer{err: errors.New("boom")}, "bridge-secret").Execute(ctx, &dto.RegisterDeviceRequest{UserID: "u", DeviceID: "d"})
	assert.Error(t, err)
	assert.False(t, resp.Bridge)
}

func TestRegisterDeviceCommand_Bridge(t *testing.T) {
	ctx := context.Background()

	t.Run("matching secret issues a bridge token", func(t *testing.T) {
		resp, err := command.NewRegisterDeviceCommand(fakeIssuer{}, "bridge-secret").
			Execute(ctx, &dto.RegisterDeviceRequest{UserID: "u", DeviceID: "d", BridgeSecret: "bridge-secret"})
		require.NoError(t, err)
		assert.Equal(t, "u.d.bridge", resp.AccessToken)
		assert.True(t, resp.Bridge)
	})

	t.Run("wrong secret is refused", func(t *testing.T) {
		_, err := command.NewRegisterDeviceCommand(fakeIssuer{}, "bridge-secret").
			Execute(ctx, &dto.RegisterDeviceRequest{UserID: "u", DeviceID: "d", BridgeSecret: "guess"})
		assert.ErrorIs(t, err, domainErrors.ErrBridgeAccessDenied)
	})

	t.Run("bridge registration is disabled without a configured secret", func(t *testing.T) {
		_, err := command.NewRegisterDeviceCommand(fakeIssuer{}, "").
			Execute(ctx, &dto.RegisterDeviceRequest{UserID: "u", DeviceID: "d", BridgeSecret: "anything"})
		assert.ErrorIs(t, err, domainErrors.ErrBridgeAccessDenied)
	})
}
