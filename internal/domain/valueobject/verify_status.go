package valueobject

// VerifyStatus is the numeric status field returned by the App Store verifyReceipt endpoint.
type VerifyStatus int

const (
	StatusValid                VerifyStatus = 0
	StatusMalformedJSON        VerifyStatus = 21000
	StatusMalformedReceiptData VerifyStatus = 21002
	StatusNotAuthenticated     VerifyStatus = 21003
	StatusSharedSecretMismatch VerifyStatus = 21004
	StatusServerUnavailable    VerifyStatus = 21005
	StatusSubscriptionExpired  VerifyStatus = 21006
	StatusSandboxReceipt       VerifyStatus = 21007
	StatusProductionReceipt    VerifyStatus = 21008
	StatusNotAuthorized        VerifyStatus = 21010
)

const (
	internalDataAccessMin = 21100
	internalDataAccessMax = 21199
)

var statusMessages = map[VerifyStatus]string{
	StatusValid:                "The receipt as a whole is valid.",
	StatusMalformedJSON:        "The App Store could not read the JSON object you provided.",
	StatusMalformedReceiptData: "The data in the receipt-data property was malformed or missing.",
	StatusNotAuthenticated:     "The receipt could not be authenticated.",
	StatusSharedSecretMismatch: "The shared secret you provided does not match the shared secret on file for your account.",
	StatusServerUnavailable:    "The receipt server is not currently available.",
	StatusSubscriptionExpired:  "This receipt is valid but the subscription has expired. When this status code is returned to your server, the receipt data is also decoded and returned as part of the response. Only returned for iOS 6 style transaction receipts for auto-renewable subscriptions.",
	StatusSandboxReceipt:       "This receipt is from the test environment, but it was sent to the production environment for verification. Send it to the test environment instead.",
	StatusProductionReceipt:    "This receipt is from the production environment, but it was sent to the test environment for verification. Send it to the production environment instead.",
	StatusNotAuthorized:        "This receipt could not be authorized. Treat this the same as if a purchase was never made.",
}

const internalDataAccessMessage = "Internal data access error."

// Message returns the user-facing description of the status.
// Codes outside the documented table fall into the internal data access bucket.
func (s VerifyStatus) Message() string {
	if msg, ok := statusMessages[s]; ok {
		return msg
	}
	return internalDataAccessMessage
}

// Int returns the raw status code
func (s VerifyStatus) Int() int {
	return int(s)
}

// IsValid returns true for status 0
func (s VerifyStatus) IsValid() bool {
	return s == StatusValid
}

// IsSandboxRedirect returns true when a production submission belongs to the sandbox
func (s VerifyStatus) IsSandboxRedirect() bool {
	return s == StatusSandboxReceipt
}

// IsInternalDataAccessError returns true for the 21100-21199 bucket
func (s VerifyStatus) IsInternalDataAccessError() bool {
	return s >= internalDataAccessMin && s <= internalDataAccessMax
}

// IsRetryable reports whether the status describes an environment or protocol problem
// rather than a verdict on the purchase itself. The receipt should be kept and resubmitted.
func (s VerifyStatus) IsRetryable() bool {
	switch s {
	case StatusMalformedJSON, StatusSharedSecretMismatch, StatusServerUnavailable, StatusProductionReceipt, StatusSandboxReceipt:
		return true
	}
	return s.IsInternalDataAccessError()
}

// StatusMessage is a shorthand for VerifyStatus(status).Message()
func StatusMessage(status int) string {
	return VerifyStatus(status).Message()
}
