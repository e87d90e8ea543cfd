package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/algopatterns/cowrite/internal/auth"
)

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		server string
		want   string
	}{
		{"http://localhost:8080", "ws://localhost:8080/api/v1/ws"},
		{"https://cowrite.example.com/", "wss://cowrite.example.com/api/v1/ws"},
		{"https://example.com/collab", "wss://example.com/collab/api/v1/ws"},
	}

	for _, tt := range tests {
		got, err := websocketURL(tt.server)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestTokenClaims(t *testing.T) {
	token, err := auth.NewTokenIssuer("any-secret", time.Hour).Generate("alice", "Alice")
	require.NoError(t, err)

	claims, err := tokenClaims(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, "Alice", claims.DisplayName)

	_, err = tokenClaims("")
	assert.Error(t, err)

	_, err = tokenClaims("not-a-jwt")
	assert.Error(t, err)
}
