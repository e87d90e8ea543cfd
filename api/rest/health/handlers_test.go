package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countRooms int

func (c countRooms) SessionCount() int { return int(c) }

type countConnected int

func (c countConnected) GetSessionCount() int { return int(c) }

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func getHealth(t *testing.T, handler gin.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/health", handler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestHealth_ReportsRoomCounts(t *testing.T) {
	rec, resp := getHealth(t, Handler(countRooms(3), countConnected(2), nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 3, resp.Rooms)
	assert.Equal(t, 2, resp.ConnectedRooms)
	assert.Equal(t, "disabled", resp.Database)
}

func TestHealth_DatabaseUnreachable(t *testing.T) {
	db := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	rec, resp := getHealth(t, Handler(countRooms(0), countConnected(0), db))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unreachable", resp.Database)
}
