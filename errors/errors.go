package errors

import (
	"fmt"
	"net/http"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// --- Constructors ---

// NotFound creates a new AppError for a resource that was not found.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("The requested %s was not found.", resource),
		HTTPStatus: http.StatusNotFound, Details: details,
	}
}

// InvalidInput creates a new AppError for invalid input.
func InvalidInput(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("Invalid input: %s", reason),
		HTTPStatus: http.StatusBadRequest, Details: details,
	}
}

// Validation creates a new AppError for validation errors.
func Validation(message string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidInput, Message: message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// GraphInvalid creates a new AppError for a flow that failed validation.
// The validation report is attached under the "report" detail.
func GraphInvalid(flowID string, report any) *AppError {
	return &AppError{
		Code: ErrCodeGraphInvalid, Message: fmt.Sprintf("Flow %q failed validation.", flowID),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"flow_id": flowID, "report": report},
	}
}

// RunInProgress creates a new AppError for a second start on a busy flow.
func RunInProgress(flowID, runID string) *AppError {
	return &AppError{
		Code: ErrCodeRunInProgress, Message: fmt.Sprintf("Flow %q already has a run in progress.", flowID),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"flow_id": flowID, "run_id": runID},
	}
}

// NodeFailed creates a new AppError for a node that exhausted its attempts.
func NodeFailed(nodeID string, attempts int, message string) *AppError {
	return &AppError{
		Code: ErrCodeNodeFailed, Message: message,
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"node_id": nodeID, "attempts": attempts},
	}
}

// RetryCancelled creates a new AppError for a cancelled manual retry.
func RetryCancelled(nodeID string) *AppError {
	return &AppError{
		Code: ErrCodeRetryCancelled, Message: "manual retry cancelled",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"node_id": nodeID},
	}
}

// Timeout creates a new AppError for an operation that timed out.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: fmt.Sprintf("%s timed out", operation),
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"operation": operation},
	}
}

// ExecutorError creates a new AppError for a command that could not be run.
func ExecutorError(profile string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeExecutor, Message: fmt.Sprintf("The %s executor could not run the command.", profile),
		HTTPStatus: http.StatusBadGateway, Retryable: true,
		Details: map[string]any{"profile": profile}, Cause: cause,
	}
}

// NotificationFailed creates a new AppError for an undelivered notice.
func NotificationFailed(target string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeNotification, Message: fmt.Sprintf("Notification to %s failed.", target),
		HTTPStatus: http.StatusBadGateway, Retryable: true,
		Details: map[string]any{"target": target}, Cause: cause,
	}
}

// StorageError creates a new AppError for a store or archive failure.
func StorageError(operation string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeStorage, Message: fmt.Sprintf("Storage operation %s failed.", operation),
		HTTPStatus: http.StatusInternalServerError, Retryable: true,
		Details: map[string]any{"operation": operation}, Cause: cause,
	}
}

// Internal creates a new AppError for an internal server error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred.",
		HTTPStatus: http.StatusInternalServerError, Cause: cause,
	}
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
