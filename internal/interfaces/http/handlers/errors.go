package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	domainErrors "github.com/bivex/storekit-settlement/internal/domain/errors"
	"github.com/bivex/storekit-settlement/internal/infrastructure/logging"
	"github.com/bivex/storekit-settlement/internal/interfaces/http/response"
)

// respondError maps a domain error onto an HTTP error response
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var code string
	if n := domainErrors.Code(err); n != 0 {
		code = strconv.Itoa(n)
	}
	message := domainErrors.Message(err)

	switch {
	case errors.Is(err, domainErrors.ErrInvalidParameter):
		response.ErrorWithCode(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), code)
	case errors.Is(err, domainErrors.ErrUnknownProductIdentifier):
		response.ErrorWithCode(c, http.StatusNotFound, "UNKNOWN_PRODUCT", message, code)
	case errors.Is(err, domainErrors.ErrTransactionNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, domainErrors.ErrProductRequestInFlight):
		response.Conflict(c, err.Error())
	case errors.Is(err, domainErrors.ErrPaymentsNotAllowed), errors.Is(err, domainErrors.ErrBridgeAccessDenied):
		response.Forbidden(c, err.Error())
	case errors.Is(err, domainErrors.ErrCoordinatorStopped), errors.Is(err, domainErrors.ErrCommandQueueFull):
		response.ServiceUnavailable(c, err.Error())
	case domainErrors.IsDefinitiveRejection(err):
		response.ReceiptRejected(c, message, code)
	case errors.Is(err, domainErrors.ErrVerificationRejected):
		response.ErrorWithCode(c, http.StatusServiceUnavailable, "VERIFICATION_UNAVAILABLE", message, code)
	case errors.Is(err, context.DeadlineExceeded):
		response.GatewayTimeout(c, err.Error())
	case errors.Is(err, domainErrors.ErrNetwork):
		response.BadGateway(c, err.Error())
	default:
		logging.GetLogger(c).Error("unhandled request error", zap.Error(err), zap.String("path", c.FullPath()))
		response.InternalError(c, "Internal server error")
	}
}
