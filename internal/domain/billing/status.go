package billing

// Platform status of a payment. Only the checkout workflow and the transfer job move a
// payment past SUCCEEDED.
const (
	StatusPending     = "PENDING"
	StatusSucceeded   = "SUCCEEDED"
	StatusFailed      = "FAILED"
	StatusTransferred = "TRANSFERRED"
	StatusRefunded    = "REFUNDED"
	StatusDisputed    = "DISPUTED"
)

// Transfer status of the mentor payout.
const (
	TransferPending     = "PENDING"
	TransferTransferred = "TRANSFERRED"
	TransferFailed      = "FAILED"
)

// MaxTransferRetries bounds transfer_retry_count; payments at the limit are no longer selected.
const MaxTransferRetries = 3
