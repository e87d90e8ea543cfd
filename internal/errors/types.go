package errors

// ErrorResponse is the body of every REST error and the payload of every
// websocket error message.
type ErrorResponse struct {
	Error   string `json:"error"`             // error code (e.g., "unauthorized", "stale_version")
	Message string `json:"message"`           // user-friendly message
	Details string `json:"details,omitempty"` // optional details (sanitized in production)
}

type ErrorInfo struct {
	category  string
	sanitized string
}

// Class says how a domain failure is reported to the client that caused it.
type Class struct {
	Code    string
	Message string
	Status  int // HTTP status for REST callers

	// the client should request room_state before sending more edits
	Resync bool

	// the same request can succeed later without changes
	Retryable bool
}

// standard error codes
const (
	CodeUnauthorized     = "unauthorized"
	CodeForbidden        = "forbidden"
	CodeNotFound         = "not_found"
	CodeValidationError  = "validation_error"
	CodeServerError      = "server_error"
	CodeBadRequest       = "bad_request"
	CodeConflict         = "conflict"
	CodeTooManyRequests  = "too_many_requests"
	CodeInvalidOperation = "invalid_operation"
	CodeSessionNotFound  = "session_not_found"
)

// collaboration error codes, sent in websocket error messages
const (
	CodeCapacityExceeded   = "capacity_exceeded"
	CodeStaleVersion       = "stale_version"
	CodePermissionDenied   = "permission_denied"
	CodeMalformed          = "malformed"
	CodeConflictUnresolved = "conflict_unresolved"
	CodeNotInSession       = "not_in_session"
	CodeChatDisabled       = "chat_disabled"
	CodeInvalidMessage     = "invalid_message"
	CodeRateLimited        = "rate_limited"
)

// error categories for classification
const (
	CategoryDatabase   = "database"
	CategoryNetwork    = "network"
	CategoryValidation = "validation"
	CategoryAuth       = "auth"
	CategoryNotFound   = "not_found"
	CategoryTimeout    = "timeout"
	CategoryUnknown    = "unknown"
)
