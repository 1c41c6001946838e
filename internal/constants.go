package internal

const (
	HeaderPriority   = "priority"
	HeaderAccountID  = "account_id"
	HeaderRetryCount = "retry_count"

	// Dead-letter queue headers
	HeaderDLQOriginalQueue = "dlq_original_queue"
	HeaderDLQErrorMessage  = "dlq_error_message"
)
