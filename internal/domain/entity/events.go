package entity

import "time"

// PurchaseState is the state carried by events published on the store facade's purchase stream.
type PurchaseState uint8

const (
	PurchaseStatePurchasing PurchaseState = iota
	PurchaseStateCancelled
	PurchaseStateFailed
	PurchaseStateSucceeded
	PurchaseStateRestored
	PurchaseStateRestoreFailed
	PurchaseStateDeferred
)

var purchaseStateNames = map[PurchaseState]string{
	PurchaseStatePurchasing:    "purchasing",
	PurchaseStateCancelled:     "cancelled",
	PurchaseStateFailed:        "failed",
	PurchaseStateSucceeded:     "succeeded",
	PurchaseStateRestored:      "restored",
	PurchaseStateRestoreFailed: "restore_failed",
	PurchaseStateDeferred:      "deferred",
}

// String returns the string representation of the state
func (s PurchaseState) String() string {
	if name, ok := purchaseStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the state by name
func (s PurchaseState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsSettleable returns true for states that carry a completed payment awaiting verification
func (s PurchaseState) IsSettleable() bool {
	return s == PurchaseStateSucceeded || s == PurchaseStateRestored
}

// PurchaseEvent is one entry on the facade's purchase stream.
type PurchaseEvent struct {
	State                         PurchaseState
	ProductIdentifier             string
	UserIdentifier                string
	TransactionIdentifier         string
	TransactionDate               time.Time
	OriginalTransactionIdentifier string
	OriginalTransactionDate       *time.Time
	Err                           error
}

// DownloadState is the state carried by download events.
type DownloadState uint8

const (
	DownloadStateStarted DownloadState = iota
	DownloadStateInProgress
	DownloadStatePaused
	DownloadStateCancelled
	DownloadStateFailed
	DownloadStateSucceeded
)

var downloadStateNames = map[DownloadState]string{
	DownloadStateStarted:    "started",
	DownloadStateInProgress: "in_progress",
	DownloadStatePaused:     "paused",
	DownloadStateCancelled:  "cancelled",
	DownloadStateFailed:     "failed",
	DownloadStateSucceeded:  "succeeded",
}

// String returns the string representation of the state
func (s DownloadState) String() string {
	if name, ok := downloadStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the state by name
func (s DownloadState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DownloadEvent is one entry on the facade's download stream.
type DownloadEvent struct {
	State                 DownloadState
	TransactionIdentifier string
	ProductIdentifier     string
	ContentIdentifier     string
	// Progress is a percentage in [0, 100].
	Progress float64
	Err      error
}
