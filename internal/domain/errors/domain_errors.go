package errors

import (
	"errors"
	"fmt"

	"github.com/bivex/storekit-settlement/internal/domain/valueobject"
)

// Error codes reported to the UI collaborator alongside the message.
const (
	CodeNetwork                  = -1
	CodePaymentCancelled         = 2
	CodeUnknownProductIdentifier = 100
	CodeInvalidParameter         = 136
	CodeDownloadCancelled        = 300
)

var (
	// Local validation errors
	ErrInvalidParameter         = errors.New("invalid parameter")
	ErrUnknownProductIdentifier = errors.New("unknown product identifier")

	// Platform errors
	ErrPlatformCancelled      = errors.New("cancelled by the user")
	ErrDownloadCancelled      = errors.New("the download cancelled")
	ErrProductRequestInFlight = errors.New("a products request is already in flight")
	ErrReceiptUnavailable     = errors.New("receipt unavailable")
	ErrPaymentsNotAllowed     = errors.New("payments are not allowed on this device")

	// Device bridge errors
	ErrBridgeAccessDenied = errors.New("device is not allowed to drive the payment queue")
	ErrCommandQueueFull   = errors.New("device command queue is full")

	// Verification errors
	ErrNetwork               = errors.New("network error")
	ErrVerificationRejected  = errors.New("receipt verification rejected")
	ErrEnvironmentRedirect   = errors.New("receipt belongs to the sandbox environment")
	ErrVerificationCancelled = errors.New("receipt verification cancelled")

	// Settlement errors
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrCoordinatorStopped  = errors.New("purchase coordinator is not running")
)

// StoreError is a local or platform error with the numeric code shown to the user.
type StoreError struct {
	Code    int
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error %d: %s", e.Code, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewInvalidParameterError creates an InvalidParameter error
func NewInvalidParameterError(message string) *StoreError {
	return &StoreError{Code: CodeInvalidParameter, Message: message, Err: ErrInvalidParameter}
}

// NewUnknownProductError creates an UnknownProductIdentifier error
func NewUnknownProductError(productID string) *StoreError {
	return &StoreError{
		Code:    CodeUnknownProductIdentifier,
		Message: fmt.Sprintf("Unknown product identifier: %s", productID),
		Err:     ErrUnknownProductIdentifier,
	}
}

// NewDownloadCancelledError creates the error reported when the last download of a transaction is cancelled
func NewDownloadCancelledError() *StoreError {
	return &StoreError{Code: CodeDownloadCancelled, Message: "The download cancelled", Err: ErrDownloadCancelled}
}

// NewPlatformCancelledError creates a PlatformCancelled error
func NewPlatformCancelledError(message string) *StoreError {
	return &StoreError{Code: CodePaymentCancelled, Message: message, Err: ErrPlatformCancelled}
}

// NetworkError is a transport failure reaching the App Store or the verification endpoint.
// It never says anything about the validity of a purchase.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrNetwork) hold for every NetworkError
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// VerificationError is a nonzero status returned by the verification endpoint.
type VerificationError struct {
	Status  int
	Message string
	Err     error
}

// NewVerificationError builds the error for status using the documented message table
func NewVerificationError(status int, cause error) *VerificationError {
	return &VerificationError{
		Status:  status,
		Message: valueobject.StatusMessage(status),
		Err:     cause,
	}
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("receipt verification failed with status %d: %s", e.Status, e.Message)
}

func (e *VerificationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrVerificationRejected}
	}
	return []error{ErrVerificationRejected, e.Err}
}

// Retryable reports whether the status is an environment problem rather than a verdict on the purchase
func (e *VerificationError) Retryable() bool {
	return valueobject.VerifyStatus(e.Status).IsRetryable()
}

// IsRetryable reports whether err leaves the transaction eligible for another verification attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var verr *VerificationError
	if errors.As(err, &verr) {
		return verr.Retryable()
	}
	return errors.Is(err, ErrNetwork)
}

// IsDefinitiveRejection reports whether err is a final verdict from the App Store.
func IsDefinitiveRejection(err error) bool {
	var verr *VerificationError
	return errors.As(err, &verr) && !verr.Retryable()
}

// Code extracts the numeric code for err, 0 if it has none.
func Code(err error) int {
	var (
		serr *StoreError
		verr *VerificationError
	)
	switch {
	case err == nil:
		return 0
	case errors.As(err, &verr):
		return verr.Status
	case errors.As(err, &serr):
		return serr.Code
	case errors.Is(err, ErrNetwork):
		return CodeNetwork
	}
	return 0
}

// Message extracts the human-readable message for err.
func Message(err error) string {
	var (
		serr *StoreError
		verr *VerificationError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return verr.Message
	case errors.As(err, &serr):
		return serr.Message
	}
	return err.Error()
}
