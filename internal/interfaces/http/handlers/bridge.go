package handlers

import (
	"encoding/base64"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bivex/storekit-settlement/internal/application/dto"
	domainErrors "github.com/bivex/storekit-settlement/internal/domain/errors"
	"github.com/bivex/storekit-settlement/internal/domain/service"
	"github.com/bivex/storekit-settlement/internal/infrastructure/external/storekit"
	"github.com/bivex/storekit-settlement/internal/interfaces/http/response"
)

// BridgeHandler receives payment-queue callbacks relayed by the device
// and hands out the commands queued for it.
type BridgeHandler struct {
	store  *service.StoreFacade
	queue  *storekit.BridgeQueue
	logger *zap.Logger
}

// NewBridgeHandler creates a new bridge handler
func NewBridgeHandler(store *service.StoreFacade, queue *storekit.BridgeQueue, logger *zap.Logger) *BridgeHandler {
	return &BridgeHandler{
		store:  store,
		queue:  queue,
		logger: logger,
	}
}

// TransactionsUpdated relays transaction state changes
// @Summary Relay transaction updates
// @Tags storekit
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body dto.TransactionsUpdateRequest true "Transaction updates"
// @Success 200 {object} response.SuccessResponse
// @Router /storekit/transactions [post]
func (h *BridgeHandler) TransactionsUpdated(c *gin.Context) {
	var req dto.TransactionsUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	if req.Receipt != "" {
		receipt, err := base64.StdEncoding.DecodeString(req.Receipt)
		if err != nil {
			respondError(c, domainErrors.NewValidationError("receipt", "must be base64 encoded"))
			return
		}
		if err := h.queue.SetReceipt(ctx, receipt); err != nil {
			respondError(c, err)
			return
		}
	}
	if req.CanMakePayments != nil {
		if err := h.queue.SetCanMakePayments(ctx, *req.CanMakePayments); err != nil {
			respondError(c, err)
			return
		}
	}

	if err := h.store.TransactionsUpdated(ctx, req.Transactions); err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, gin.H{"accepted": len(req.Transactions)})
}

// TransactionsRemoved relays transactions that left the payment queue
func (h *BridgeHandler) TransactionsRemoved(c *gin.Context) {
	var req dto.TransactionsRemovedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	h.store.TransactionsRemoved(req.TransactionIDs)
	response.NoContent(c)
}

// DownloadsUpdated relays hosted-content download changes
func (h *BridgeHandler) DownloadsUpdated(c *gin.Context) {
	var req dto.DownloadsUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	if err := h.store.DownloadsUpdated(c.Request.Context(), req.Downloads); err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, gin.H{"accepted": len(req.Downloads)})
}

// ProductsReceived relays the App Store product response
func (h *BridgeHandler) ProductsReceived(c *gin.Context) {
	var req dto.ProductsReceivedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	h.store.ProductsReceived(req.Products, req.InvalidIdentifiers)
	response.NoContent(c)
}

// ProductsFailed relays a failed products request
func (h *BridgeHandler) ProductsFailed(c *gin.Context) {
	var req dto.PlatformFailureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	h.store.ProductsRequestFailed(&req.Error)
	response.NoContent(c)
}

// RestoreResult relays the end of a restore
func (h *BridgeHandler) RestoreResult(c *gin.Context) {
	var req dto.RestoreResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	if req.Error != nil {
		if err := h.store.RestoreFailed(ctx, req.Error); err != nil {
			respondError(c, err)
			return
		}
		response.NoContent(c)
		return
	}
	if !req.Finished {
		response.BadRequest(c, "either finished or error is required")
		return
	}
	h.store.RestoreCompleted(ctx)
	response.NoContent(c)
}

// ReceiptRefreshed relays a completed receipt refresh with the new receipt
func (h *BridgeHandler) ReceiptRefreshed(c *gin.Context) {
	var req dto.ReceiptRefreshedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	receipt, err := base64.StdEncoding.DecodeString(req.Receipt)
	if err != nil {
		respondError(c, domainErrors.NewValidationError("receipt", "must be base64 encoded"))
		return
	}
	if err := h.queue.SetReceipt(c.Request.Context(), receipt); err != nil {
		respondError(c, err)
		return
	}
	h.store.ReceiptRefreshed()
	response.NoContent(c)
}

// ReceiptRefreshFailed relays a failed receipt refresh
func (h *BridgeHandler) ReceiptRefreshFailed(c *gin.Context) {
	var req dto.PlatformFailureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	h.store.ReceiptRefreshFailed(&req.Error)
	response.NoContent(c)
}

// PromotedPurchase relays a purchase the user started in the App Store
func (h *BridgeHandler) PromotedPurchase(c *gin.Context) {
	var req dto.PromotedPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	proceed := h.store.StorePaymentRequested(req.Product, req.Payment)
	response.OK(c, gin.H{"proceed": proceed})
}

// Commands hands the device the commands queued for it
// @Summary Drain queued payment-queue commands
// @Tags storekit
// @Produce json
// @Security Bearer
// @Param limit query int false "maximum number of commands"
// @Success 200 {object} response.SuccessResponse
// @Router /storekit/commands [get]
func (h *BridgeHandler) Commands(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	commands, err := h.queue.DrainCommands(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(commands) > 0 {
		h.logger.Debug("commands drained", zap.Int("count", len(commands)), zap.String("device_id", c.GetString("device_id")))
	}
	response.OK(c, gin.H{"commands": commands})
}
