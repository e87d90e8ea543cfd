package main

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"codeberg.org/algopatterns/cowrite/internal/client"
	"codeberg.org/algopatterns/cowrite/internal/tui"
)

// a manager plus the run loop driving it
type roomSession struct {
	*client.Manager
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *roomSession) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// opens rooms against one server; every room shares the outbox
func newConnector(base client.Options, outbox client.Outbox, log *slog.Logger) tui.Connector {
	dialer := client.NewWebsocketDialer()

	return func(roomID string) (tui.Session, error) {
		opts := base
		opts.RoomID = roomID

		m, err := client.NewManager(opts, dialer, outbox, log)
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithCancel(context.Background())
		s := &roomSession{Manager: m, cancel: cancel, done: make(chan struct{})}

		go func() {
			defer close(s.done)
			if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("room session stopped", "room_id", roomID, "error", err)
			}
		}()

		return s, nil
	}
}

// maps the REST base URL onto the websocket endpoint
func websocketURL(server string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path += "/api/v1/ws"

	return u.String(), nil
}
