package middleware

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	domainErrors "github.com/bivex/storekit-settlement/internal/domain/errors"
	"github.com/bivex/storekit-settlement/internal/interfaces/http/response"
)

// DeviceClaimer binds the payment queue to a single device
type DeviceClaimer interface {
	ClaimDevice(ctx context.Context, deviceID string) error
}

// RequireBridgeDevice admits only bridge tokens of the device holding the payment queue.
// Must run after Authenticate.
func RequireBridgeDevice(claimer DeviceClaimer, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.GetString("device_id")
		if !c.GetBool("bridge") || deviceID == "" {
			response.Forbidden(c, "Token is not allowed to relay payment-queue callbacks")
			c.Abort()
			return
		}

		if err := claimer.ClaimDevice(c.Request.Context(), deviceID); err != nil {
			if errors.Is(err, domainErrors.ErrBridgeAccessDenied) {
				logger.Warn("payment queue held by another device", zap.String("device_id", deviceID))
				response.Forbidden(c, err.Error())
				c.Abort()
				return
			}
			logger.Error("failed to claim payment queue", zap.String("device_id", deviceID), zap.Error(err))
			response.ServiceUnavailable(c, "Device binding unavailable")
			c.Abort()
			return
		}

		c.Next()
	}
}
