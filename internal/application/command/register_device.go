package command

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/bivex/storekit-settlement/internal/application/dto"
	domainErrors "github.com/bivex/storekit-settlement/internal/domain/errors"
)

// TokenIssuer issues device access tokens
type TokenIssuer interface {
	GenerateAccessToken(userID, deviceID string, bridge bool) (string, string, error)
	AccessTTL() time.Duration
}

// RegisterDeviceCommand handles device registration
type RegisterDeviceCommand struct {
	issuer       TokenIssuer
	bridgeSecret []byte
}

// NewRegisterDeviceCommand creates a new register device command.
// An empty bridgeSecret disables bridge registration.
func NewRegisterDeviceCommand(issuer TokenIssuer, bridgeSecret string) *RegisterDeviceCommand {
	return &RegisterDeviceCommand{issuer: issuer, bridgeSecret: []byte(bridgeSecret)}
}

// Execute issues an access token for the device
func (c *RegisterDeviceCommand) Execute(_ context.Context, req *dto.RegisterDeviceRequest) (*dto.RegisterDeviceResponse, error) {
	if req.UserID == "" {
		return nil, domainErrors.NewRequiredFieldError("user_id")
	}
	if req.DeviceID == "" {
		return nil, domainErrors.NewRequiredFieldError("device_id")
	}

	bridge := req.BridgeSecret != ""
	if bridge && (len(c.bridgeSecret) == 0 || subtle.ConstantTimeCompare([]byte(req.BridgeSecret), c.bridgeSecret) != 1) {
		return nil, domainErrors.ErrBridgeAccessDenied
	}

	token, _, err := c.issuer.GenerateAccessToken(req.UserID, req.DeviceID, bridge)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	return &dto.RegisterDeviceResponse{
		AccessToken: token,
		ExpiresIn:   int64(c.issuer.AccessTTL().Seconds()),
		Bridge:      bridge,
	}, nil
}
