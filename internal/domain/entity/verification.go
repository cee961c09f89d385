package entity

// ReceiptVerification is a successful answer from the receipt verification endpoint.
type ReceiptVerification struct {
	Status int `json:"status"`
	// Environment is the endpoint that accepted the receipt, "Production" or "Sandbox".
	Environment string                 `json:"environment"`
	Payload     map[string]interface{} `json:"payload"`
}
