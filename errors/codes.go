package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Request errors
const (
	// ErrCodeNotFound indicates the requested flow, run or node was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeGraphInvalid indicates a flow graph failed validation.
	ErrCodeGraphInvalid ErrorCode = "GRAPH_INVALID"
	// ErrCodeRunInProgress indicates the flow already has an active run.
	ErrCodeRunInProgress ErrorCode = "RUN_IN_PROGRESS"
)

// Execution errors
const (
	// ErrCodeNodeFailed indicates a node exhausted its attempts.
	ErrCodeNodeFailed ErrorCode = "NODE_FAILED"
	// ErrCodeRetryCancelled indicates a manual retry was cancelled or timed out.
	ErrCodeRetryCancelled ErrorCode = "RETRY_CANCELLED"
	// ErrCodeTimeout indicates an operation timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeExecutor indicates the command executor could not run a command.
	ErrCodeExecutor ErrorCode = "EXECUTOR_ERROR"
	// ErrCodeNotification indicates a notice could not be delivered.
	ErrCodeNotification ErrorCode = "NOTIFICATION_FAILED"
)

// Infrastructure errors
const (
	// ErrCodeStorage indicates a report store or archive failure.
	ErrCodeStorage ErrorCode = "STORAGE_ERROR"
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeTimeout:      true,
	ErrCodeExecutor:     true,
	ErrCodeNotification: true,
	ErrCodeStorage:      true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
