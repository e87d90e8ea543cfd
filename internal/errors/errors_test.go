package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"codeberg.org/algopatterns/cowrite/internal/collab"
	"codeberg.org/algopatterns/cowrite/internal/conflict"
	"codeberg.org/algopatterns/cowrite/internal/document"
	"codeberg.org/algopatterns/cowrite/internal/ot"
	"codeberg.org/algopatterns/cowrite/internal/sessions"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status int
		resync bool
	}{
		{"capacity", sessions.ErrCapacityExceeded, CodeCapacityExceeded, http.StatusConflict, false},
		{"stale", fmt.Errorf("apply: %w", document.ErrStaleVersion), CodeStaleVersion, http.StatusConflict, true},
		{"permission", collab.ErrPermissionDenied, CodePermissionDenied, http.StatusForbidden, false},
		{"malformed", fmt.Errorf("%w: bad op", document.ErrMalformed), CodeMalformed, http.StatusBadRequest, true},
		{"bounds", ot.ErrOutOfBounds, CodeMalformed, http.StatusBadRequest, true},
		{"unresolved", conflict.ErrConflictUnresolved, CodeConflictUnresolved, http.StatusConflict, false},
		{"not in session", sessions.ErrNotInSession, CodeNotInSession, http.StatusForbidden, false},
		{"closed", document.ErrDocumentClosed, CodeSessionNotFound, http.StatusNotFound, false},
		{"database", pgx.ErrNoRows, CodeServerError, http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class := Classify(tt.err)
			assert.Equal(t, tt.code, class.Code)
			assert.Equal(t, tt.status, class.Status)
			assert.Equal(t, tt.resync, class.Resync)
			assert.NotEmpty(t, class.Message)
		})
	}

	assert.Equal(t, Class{}, Classify(nil))
}

func TestClassify_FullRoomIsNotRetryable(t *testing.T) {
	assert.False(t, Classify(sessions.ErrCapacityExceeded).Retryable)
}

func TestRefused(t *testing.T) {
	assert.True(t, Refused(CodeCapacityExceeded))
	assert.True(t, Refused(CodeUnauthorized))
	assert.True(t, Refused(CodePermissionDenied))
	assert.False(t, Refused(CodeStaleVersion))
	assert.False(t, Refused(CodeRateLimited))
}

func TestSanitize_Production(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")

	assert.Equal(t, "resource not found", sanitizeError(pgx.ErrNoRows))
	assert.Equal(t, "connection error occurred", sanitizeError(fmt.Errorf("dial tcp 10.0.0.1:5432: connection refused")))
	assert.Empty(t, ToResponse(fmt.Errorf("boom")).Details)
}

func TestRespond(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/rooms/x", nil)

	Respond(c, sessions.ErrCapacityExceeded)

	assert.Equal(t, http.StatusConflict, w.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, CodeCapacityExceeded, body.Error)
}

func TestIsValidUUID(t *testing.T) {
	assert.True(t, IsValidUUID("123e4567-e89b-12d3-a456-426614174000"))
	assert.True(t, IsValidUUID("123E4567-E89B-12D3-A456-426614174000"))
	assert.False(t, IsValidUUID("not-a-uuid"))
	assert.False(t, IsValidUUID(""))
}
