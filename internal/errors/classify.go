package errors

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"codeberg.org/algopatterns/cowrite/internal/chat"
	"codeberg.org/algopatterns/cowrite/internal/collab"
	"codeberg.org/algopatterns/cowrite/internal/conflict"
	"codeberg.org/algopatterns/cowrite/internal/document"
	"codeberg.org/algopatterns/cowrite/internal/ot"
	"codeberg.org/algopatterns/cowrite/internal/sessions"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Classify maps a collaboration failure to its wire code. Unknown errors
// become server_error with a sanitized message.
func Classify(err error) Class {
	switch {
	case err == nil:
		return Class{}

	case errors.Is(err, sessions.ErrCapacityExceeded):
		return Class{Code: CodeCapacityExceeded, Message: "room is full", Status: http.StatusConflict}

	case errors.Is(err, document.ErrStaleVersion):
		return Class{Code: CodeStaleVersion, Message: "document changed too much since your version, resync required", Status: http.StatusConflict, Resync: true}

	case errors.Is(err, collab.ErrPermissionDenied):
		return Class{Code: CodePermissionDenied, Message: "you do not have permission to do that", Status: http.StatusForbidden}

	case errors.Is(err, document.ErrMalformed), isOperationError(err):
		return Class{Code: CodeMalformed, Message: "operation rejected: " + sanitizeError(err), Status: http.StatusBadRequest, Resync: true}

	case errors.Is(err, conflict.ErrConflictUnresolved):
		return Class{Code: CodeConflictUnresolved, Message: "edits could not be merged safely, the document was left unchanged", Status: http.StatusConflict}

	case errors.Is(err, sessions.ErrNotInSession):
		return Class{Code: CodeNotInSession, Message: "you are not in this room", Status: http.StatusForbidden}

	case errors.Is(err, sessions.ErrSessionNotFound), errors.Is(err, document.ErrDocumentNotFound), errors.Is(err, document.ErrDocumentClosed):
		return Class{Code: CodeSessionNotFound, Message: "room is not active", Status: http.StatusNotFound, Retryable: true}

	case errors.Is(err, collab.ErrChatDisabled):
		return Class{Code: CodeChatDisabled, Message: "chat is disabled in this room", Status: http.StatusForbidden}

	case errors.Is(err, chat.ErrInvalidMessage), errors.Is(err, chat.ErrUnknownCursor):
		return Class{Code: CodeInvalidMessage, Message: sanitizeError(err), Status: http.StatusBadRequest}

	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Class{Code: CodeServerError, Message: "request timed out", Status: http.StatusGatewayTimeout, Retryable: true}
	}

	return Class{Code: CodeServerError, Message: classifyError(err).sanitized, Status: http.StatusInternalServerError}
}

// Refused reports whether a wire code turns a connection away for good;
// reconnecting cannot change the answer.
func Refused(code string) bool {
	switch code {
	case CodeCapacityExceeded, CodeUnauthorized, CodePermissionDenied:
		return true
	}
	return false
}

func isOperationError(err error) bool {
	for _, target := range []error{ot.ErrUnknownType, ot.ErrNegative, ot.ErrEmptyInsert, ot.ErrEmptyDelete, ot.ErrOutOfBounds, ot.ErrContentLimit} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// analyzes an infrastructure error and returns its category and sanitized message
func classifyError(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{CategoryUnknown, ""}
	}

	isProduction := isProduction()

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return ErrorInfo{
			category:  CategoryDatabase,
			sanitized: ternary(isProduction, "database operation failed", err.Error()),
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return ErrorInfo{
			category:  CategoryNotFound,
			sanitized: ternary(isProduction, "resource not found", err.Error()),
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorInfo{
			category:  CategoryTimeout,
			sanitized: ternary(isProduction, "request timed out", err.Error()),
		}
	}

	errMsg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline"):
		return ErrorInfo{CategoryTimeout, ternary(isProduction, "request timed out", err.Error())}
	case strings.Contains(errMsg, "not found") || strings.Contains(errMsg, "no rows"):
		return ErrorInfo{CategoryNotFound, ternary(isProduction, "resource not found", err.Error())}
	case strings.Contains(errMsg, "database") || strings.Contains(errMsg, "sql") ||
		strings.Contains(errMsg, "postgres") || strings.Contains(errMsg, "redis"):
		return ErrorInfo{CategoryDatabase, ternary(isProduction, "database operation failed", err.Error())}
	case strings.Contains(errMsg, "connection") || strings.Contains(errMsg, "network") ||
		strings.Contains(errMsg, "dial"):
		return ErrorInfo{CategoryNetwork, ternary(isProduction, "connection error occurred", err.Error())}
	case strings.Contains(errMsg, "validation") || strings.Contains(errMsg, "binding") ||
		strings.Contains(errMsg, "invalid") || strings.Contains(errMsg, "required"):
		return ErrorInfo{CategoryValidation, ternary(isProduction, "validation failed", err.Error())}
	case strings.Contains(errMsg, "unauthorized") || strings.Contains(errMsg, "forbidden") ||
		strings.Contains(errMsg, "permission"):
		return ErrorInfo{CategoryAuth, ternary(isProduction, "permission denied", err.Error())}
	}

	return ErrorInfo{CategoryUnknown, ternary(isProduction, "an error occurred", err.Error())}
}
