package dto

import "github.com/bivex/storekit-settlement/internal/domain/entity"

// ========== DEVICE DTOs ==========

// RegisterDeviceRequest represents a device registration request
type RegisterDeviceRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	DeviceID   string `json:"device_id" binding:"required"`
	AppVersion string `json:"app_version,omitempty"`
	// BridgeSecret requests a token that may relay payment-queue callbacks
	BridgeSecret string `json:"bridge_secret,omitempty"`
}

// RegisterDeviceResponse represents a device registration response
type RegisterDeviceResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Bridge      bool   `json:"bridge"`
}

// ========== BRIDGE DTOs ==========

// TransactionsUpdateRequest carries payment-queue transaction updates from the device.
// Receipt is the base64 App Store receipt at the time of the update.
type TransactionsUpdateRequest struct {
	Transactions    []entity.PlatformTransaction `json:"transactions" binding:"required,min=1"`
	Receipt         string                       `json:"receipt,omitempty"`
	CanMakePayments *bool                        `json:"can_make_payments,omitempty"`
}

// TransactionsRemovedRequest lists transactions that left the device payment queue
type TransactionsRemovedRequest struct {
	TransactionIDs []string `json:"transaction_ids" binding:"required,min=1"`
}

// DownloadsUpdateRequest carries hosted-content download updates from the device
type DownloadsUpdateRequest struct {
	Downloads []entity.PlatformDownload `json:"downloads" binding:"required,min=1"`
}

// ProductsReceivedRequest is the App Store product response relayed by the device
type ProductsReceivedRequest struct {
	Products           []entity.Product `json:"products"`
	InvalidIdentifiers []string         `json:"invalid_identifiers"`
}

// PlatformFailureRequest reports a failed platform request
type PlatformFailureRequest struct {
	Error entity.PlatformError `json:"error"`
}

// RestoreResultRequest reports the end of a restore; Error is set when it failed
type RestoreResultRequest struct {
	Finished bool                  `json:"finished"`
	Error    *entity.PlatformError `json:"error,omitempty"`
}

// ReceiptRefreshedRequest carries the refreshed receipt
type ReceiptRefreshedRequest struct {
	Receipt string `json:"receipt" binding:"required"`
}

// PromotedPurchaseRequest reports a purchase the user started in the App Store
type PromotedPurchaseRequest struct {
	Product entity.Product `json:"product" binding:"required"`
	Payment entity.Payment `json:"payment" binding:"required"`
}

// ========== STORE DTOs ==========

// RequestProductsRequest represents a products request
type RequestProductsRequest struct {
	ProductIDs []string `json:"product_ids" binding:"required,min=1"`
}

// ProductsResponse represents a products response
type ProductsResponse struct {
	Products           []entity.Product `json:"products"`
	InvalidIdentifiers []string         `json:"invalid_identifiers"`
}

// PurchaseRequest represents a purchase request
type PurchaseRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"omitempty,min=1"`
}

// PurchaseResponse represents an accepted purchase
type PurchaseResponse struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Status    string `json:"status"`
}

// TransactionResponse represents a persisted transaction awaiting settlement
type TransactionResponse struct {
	State                         string  `json:"state"`
	ProductIdentifier             string  `json:"product_identifier"`
	UserIdentifier                string  `json:"user_identifier,omitempty"`
	TransactionIdentifier         string  `json:"transaction_identifier"`
	TransactionDate               string  `json:"transaction_date,omitempty"`
	OriginalTransactionIdentifier string  `json:"original_transaction_identifier,omitempty"`
	OriginalTransactionDate       *string `json:"original_transaction_date,omitempty"`
}

// PendingTransactionsResponse lists the transactions awaiting settlement
type PendingTransactionsResponse struct {
	Transactions []TransactionResponse `json:"transactions"`
	Count        int                   `json:"count"`
}

// VerifyReceiptRequest represents a direct receipt verification request
type VerifyReceiptRequest struct {
	ReceiptData string `json:"receipt_data" binding:"required"`
}

// VerifyReceiptResponse represents a receipt verification response
type VerifyReceiptResponse struct {
	Status      int                    `json:"status"`
	Environment string                 `json:"environment"`
	Receipt     map[string]interface{} `json:"receipt"`
}
