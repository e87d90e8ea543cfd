package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one open connection. *websocket.Conn satisfies it.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Dialer opens connections for the manager.
type Dialer interface {
	Dial(ctx context.Context, opts Options, sinceVersion int64) (Conn, error)
}

// WebsocketDialer dials the server's upgrade endpoint with gorilla.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, opts Options, sinceVersion int64) (Conn, error) {
	endpoint, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", opts.URL, err)
	}

	q := endpoint.Query()
	q.Set("room_id", opts.RoomID)
	q.Set("token", opts.Token)
	if opts.ReplicaID != "" {
		q.Set("replica_id", opts.ReplicaID)
	}
	if opts.DisplayName != "" {
		q.Set("display_name", opts.DisplayName)
	}
	if sinceVersion > 0 {
		q.Set("since_version", strconv.FormatInt(sinceVersion, 10))
	}
	endpoint.RawQuery = q.Encode()

	conn, resp, err := d.Dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close() //nolint:errcheck,gosec // handshake response is not read
			if refusedStatus(resp.StatusCode) {
				return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
			}
			return nil, fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return conn, nil
}

// bad token, no access or a full room
func refusedStatus(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict:
		return true
	}
	return false
}
