package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"codeberg.org/algopatterns/cowrite/cowrite/rooms"
	apperrors "codeberg.org/algopatterns/cowrite/internal/errors"
)

// manages HTTP requests to the rooms REST API
type RoomsClient struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// creates a new rooms REST client
func NewRoomsClient(endpoint, token string) *RoomsClient {
	return &RoomsClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// lists the caller's rooms in a project
func (c *RoomsClient) ListRooms(projectID string) ([]*rooms.Room, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	q := url.Values{"project_id": {projectID}, "limit": {"100"}}

	var resp struct {
		Rooms []*rooms.Room `json:"rooms"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/rooms?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	return resp.Rooms, nil
}

// creates a room owned by the caller
func (c *RoomsClient) CreateRoom(projectID, title string) (*rooms.Room, error) {
	ctx, cancel := withTimeout()
	defer cancel()

	req := rooms.CreateRoomRequest{ProjectID: projectID, Title: title}

	var room rooms.Room
	if err := c.do(ctx, http.MethodPost, "/api/v1/rooms", req, &room); err != nil {
		return nil, err
	}

	return &room, nil
}

func (c *RoomsClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var errResp apperrors.ErrorResponse
		if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("%s: %s", errResp.Error, errResp.Message)
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return nil
}
