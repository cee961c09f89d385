package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bivex/storekit-settlement/internal/application/command"
	"github.com/bivex/storekit-settlement/internal/application/dto"
	"github.com/bivex/storekit-settlement/internal/application/query"
	"github.com/bivex/storekit-settlement/internal/interfaces/http/response"
)

// StoreHandler handles the application-facing store endpoints
type StoreHandler struct {
	requestProductsCmd *command.RequestProductsCommand
	purchaseCmd        *command.PurchaseCommand
	restoreCmd         *command.RestoreCommand
	retryCmd           *command.RetryTransactionCommand
	verifyCmd          *command.VerifyReceiptCommand
	pendingQuery       *query.PendingTransactionsQuery
	notificationsQuery *query.NotificationsQuery
}

// NewStoreHandler creates a new store handler
func NewStoreHandler(
	requestProductsCmd *command.RequestProductsCommand,
	purchaseCmd *command.PurchaseCommand,
	restoreCmd *command.RestoreCommand,
	retryCmd *command.RetryTransactionCommand,
	verifyCmd *command.VerifyReceiptCommand,
	pendingQuery *query.PendingTransactionsQuery,
	notificationsQuery *query.NotificationsQuery,
) *StoreHandler {
	return &StoreHandler{
		requestProductsCmd: requestProductsCmd,
		purchaseCmd:        purchaseCmd,
		restoreCmd:         restoreCmd,
		retryCmd:           retryCmd,
		verifyCmd:          verifyCmd,
		pendingQuery:       pendingQuery,
		notificationsQuery: notificationsQuery,
	}
}

// RequestProducts requests product details from the App Store
// @Summary Request products
// @Tags store
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body dto.RequestProductsRequest true "Product identifiers"
// @Success 200 {object} response.SuccessResponse{data=dto.ProductsResponse}
// @Failure 400 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /products [post]
func (h *StoreHandler) RequestProducts(c *gin.Context) {
	var req dto.RequestProductsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	resp, err := h.requestProductsCmd.Execute(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, resp)
}

// Purchase adds a payment for a product
// @Summary Purchase a product
// @Tags store
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body dto.PurchaseRequest true "Purchase request"
// @Success 202 {object} response.SuccessResponse{data=dto.PurchaseResponse}
// @Failure 403 {object} response.ErrorResponse
// @Router /purchases [post]
func (h *StoreHandler) Purchase(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		response.Unauthorized(c, "User not authenticated")
		return
	}

	var req dto.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	resp, err := h.purchaseCmd.Execute(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Send(c, http.StatusAccepted, resp)
}

// Restore asks the platform to redeliver completed transactions
func (h *StoreHandler) Restore(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		response.Unauthorized(c, "User not authenticated")
		return
	}

	if err := h.restoreCmd.Execute(c.Request.Context(), userID); err != nil {
		respondError(c, err)
		return
	}
	response.Send(c, http.StatusAccepted, gin.H{"status": "queued"})
}

// PendingTransactions lists the caller's transactions awaiting settlement
func (h *StoreHandler) PendingTransactions(c *gin.Context) {
	resp, err := h.pendingQuery.Execute(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, resp)
}

// RetryTransaction verifies a persisted transaction again
func (h *StoreHandler) RetryTransaction(c *gin.Context) {
	if err := h.retryCmd.Execute(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	response.Send(c, http.StatusAccepted, gin.H{"transaction_id": c.Param("id"), "status": "verifying"})
}

// VerifyReceipt verifies a receipt with the App Store without settling it
// @Summary Verify receipt
// @Tags store
// @Accept json
// @Produce json
// @Security Bearer
// @Param request body dto.VerifyReceiptRequest true "Receipt verification request"
// @Success 200 {object} response.SuccessResponse{data=dto.VerifyReceiptResponse}
// @Failure 422 {object} response.ErrorResponse
// @Failure 502 {object} response.ErrorResponse
// @Router /verify [post]
func (h *StoreHandler) VerifyReceipt(c *gin.Context) {
	var req dto.VerifyReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request format: "+err.Error())
		return
	}

	resp, err := h.verifyCmd.Execute(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, resp)
}

// Notifications drains purchase and download notifications
func (h *StoreHandler) Notifications(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	items, err := h.notificationsQuery.Execute(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	response.OK(c, gin.H{"notifications": items})
}
