package websocket

import (
	"context"
	"errors"
	"fmt"

	"codeberg.org/algopatterns/cowrite/internal/collab"
	"codeberg.org/algopatterns/cowrite/internal/conflict"
	"codeberg.org/algopatterns/cowrite/internal/document"
	"codeberg.org/algopatterns/cowrite/internal/logger"
	"codeberg.org/algopatterns/cowrite/internal/presence"
)

// RegisterHandlers wires every client message type to svc.
func RegisterHandlers(hub *Hub, svc Service) {
	hub.RegisterHandler(TypeEditOperations, EditOperationsHandler(svc))
	hub.RegisterHandler(TypePresenceUpdate, PresenceUpdateHandler(svc))
	hub.RegisterHandler(TypeChatMessage, ChatHandler(svc))
	hub.RegisterHandler(TypeRequestRoomState, RequestRoomStateHandler(svc))
	hub.RegisterHandler(TypeResolveConflict, ResolveConflictHandler(svc))
	hub.RegisterHandler(TypePing, PingHandler())
	hub.RegisterHandler(TypeKeepalive, KeepaliveHandler())
}

// handles a batch of edit operations. The ack and the broadcast come
// from the hub once the batch commits.
func EditOperationsHandler(svc Service) MessageHandler {
	return func(hub *Hub, client *Client, msg *Message) error {
		if !client.allowEdit() {
			return ErrRateLimitExceeded
		}

		var payload EditOperationsPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}

		if payload.FileID != "" && payload.FileID != client.SessionID {
			return fmt.Errorf("%w: unknown file %q", ErrInvalidMessage, payload.FileID)
		}

		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		result, err := svc.SubmitOperations(ctx, client.SessionID, client.UserID, document.Submission{
			Operations:  payload.Operations,
			BaseVersion: payload.BaseVersion,
			ReplicaID:   client.ReplicaID,
			ClientSeq:   payload.ClientSeq,
		})

		if errors.Is(err, document.ErrStaleVersion) && result != nil && result.Conflict != nil {
			logger.Info("stale edit batch rejected",
				"client_id", client.ID,
				"session_id", client.SessionID,
				"base_version", payload.BaseVersion,
				"client_seq", payload.ClientSeq,
			)

			// the record, then the error, after the version bump it caused
			record, staleErr := *result.Conflict, err
			return hub.Do(func() {
				sendConflict(client, record)
				hub.reportError(client, msg, staleErr)
			})
		}

		if err != nil {
			return err
		}

		if !result.Applied.Duplicate {
			return nil
		}

		// a retransmit of a batch that already committed; ack it once more,
		// after whatever the hub is still delivering
		applied := result.Applied
		return hub.Do(func() {
			ack, err := NewMessage(TypeEditApplied, client.SessionID, client.UserID, EditAppliedPayload{
				FileID:     client.SessionID,
				NewVersion: applied.Version,
				ClientSeq:  payload.ClientSeq,
				Duplicate:  true,
			})
			if err != nil {
				return
			}
			client.Send(ack) //nolint:errcheck,gosec // best-effort ack
		})
	}
}

// handles cursor, selection and viewport changes
func PresenceUpdateHandler(svc Service) MessageHandler {
	return func(_ *Hub, client *Client, msg *Message) error {
		var payload PresenceUpdatePayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}

		_, err := svc.UpdatePresence(client.SessionID, client.UserID, presence.Fields{
			FileID:    payload.FileID,
			Cursor:    payload.CursorPosition,
			Selection: payload.Selection,
			Viewport:  payload.Viewport,
			IsTyping:  payload.IsTyping,
		})
		return err
	}
}

// handles session chat messages
func ChatHandler(svc Service) MessageHandler {
	return func(_ *Hub, client *Client, msg *Message) error {
		if !client.allowChat() {
			return ErrRateLimitExceeded
		}

		var payload ChatMessagePayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		_, err := svc.SendChat(ctx, client.SessionID, client.UserID, collab.ChatRequest{
			Body:     payload.Message,
			Type:     payload.MessageType,
			ReplyTo:  payload.ReplyTo,
			Metadata: payload.Metadata,
		})
		return err
	}
}

// handles resync requests. The state is built on the hub loop so nothing
// falls between it and the next broadcast.
func RequestRoomStateHandler(svc Service) MessageHandler {
	return func(hub *Hub, client *Client, msg *Message) error {
		var payload RequestRoomStatePayload
		if len(msg.Payload) > 0 {
			if err := msg.UnmarshalPayload(&payload); err != nil {
				return err
			}
		}

		replicaID := payload.ReplicaID
		if replicaID == "" {
			replicaID = client.ReplicaID
		}

		return hub.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
			defer cancel()

			state, err := svc.RoomState(ctx, client.SessionID, client.UserID, payload.SinceVersion, replicaID)
			if err != nil {
				hub.reportError(client, msg, err)
				return
			}

			reply, err := NewMessage(TypeRoomState, client.SessionID, client.UserID, state)
			if err != nil {
				logger.ErrorErr(err, "failed to create room state message", "session_id", client.SessionID)
				return
			}

			if err := client.Send(reply); err != nil {
				logger.ErrorErr(err, "failed to send room state",
					"client_id", client.ID,
					"session_id", client.SessionID,
				)
			}
		})
	}
}

// handles a client's divergent copy of the document. The outcome reaches
// the authors as conflict_resolved and everyone else as file_edit.
func ResolveConflictHandler(svc Service) MessageHandler {
	return func(_ *Hub, client *Client, msg *Message) error {
		if !client.allowEdit() {
			return ErrRateLimitExceeded
		}

		var payload ResolveConflictPayload
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		result, err := svc.ResolveConflict(ctx, client.SessionID, client.UserID, payload.BaseVersion, payload.Content)
		if err != nil {
			return err
		}

		logger.Info("conflict resolved",
			"client_id", client.ID,
			"session_id", client.SessionID,
			"strategy", result.Record.Strategy,
			"version", result.Version,
		)

		return nil
	}
}

// handles ping messages from clients (keep-alive)
func PingHandler() MessageHandler {
	return func(_ *Hub, client *Client, _ *Message) error {
		pongMsg, err := NewMessage(TypePong, client.SessionID, client.UserID, nil)
		if err != nil {
			return err
		}
		client.Send(pongMsg) //nolint:errcheck,gosec // best-effort pong
		return nil
	}
}

// keepalives only refresh the read deadline
func KeepaliveHandler() MessageHandler {
	return func(*Hub, *Client, *Message) error {
		return nil
	}
}

func sendConflict(client *Client, record conflict.Record) {
	msg, err := NewMessage(TypeConflictResolved, client.SessionID, client.UserID, ConflictResolvedPayload{
		FileID:     client.SessionID,
		Record:     record,
		NewVersion: record.Version,
	})
	if err != nil {
		return
	}
	client.Send(msg) //nolint:errcheck,gosec // followed by the stale_version error
}
