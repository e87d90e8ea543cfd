package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"codeberg.org/algopatterns/cowrite/cowrite/rooms"
	"codeberg.org/algopatterns/cowrite/internal/chat"
	"codeberg.org/algopatterns/cowrite/internal/logger"
)

// replaces the stored checkpoint only with a newer version
var setDocumentScript = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], 'version') or '-1')
if current >= tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], 'doc', ARGV[1], 'version', ARGV[2])
redis.call('EXPIRE', KEYS[1], ARGV[3])
redis.call('SADD', KEYS[2], ARGV[4])
return 1
`)

// handles Redis-backed buffering for room data
type RoomBuffer struct {
	client *redis.Client
}

// creates a new room buffer with Redis connection
func NewRoomBuffer(redisURL string) (*RoomBuffer, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck,gosec // connection never came up
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("connected to redis")

	return &RoomBuffer{client: client}, nil
}

// closes the Redis connection
func (b *RoomBuffer) Close() error {
	return b.client.Close()
}

// stores a document checkpoint and marks the room dirty, unless a newer
// version is already buffered
func (b *RoomBuffer) SetDocument(ctx context.Context, doc *rooms.Document) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	keys := []string{fmt.Sprintf(keyRoomDocument, doc.RoomID), keyDirtyRoomsDocuments}
	args := []any{docJSON, doc.Version, int(documentTTL.Seconds()), doc.RoomID}

	if err := setDocumentScript.Run(ctx, b.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("failed to set document in redis: %w", err)
	}

	return nil
}

// retrieves the buffered checkpoint for a room
// returns nil if not found (caller should fall back to Postgres)
func (b *RoomBuffer) GetDocument(ctx context.Context, roomID string) (*rooms.Document, error) {
	docJSON, err := b.client.HGet(ctx, fmt.Sprintf(keyRoomDocument, roomID), "doc").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document from redis: %w", err)
	}

	var doc rooms.Document
	if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal buffered document: %w", err)
	}

	return &doc, nil
}

// appends a message to the room's message buffer
func (b *RoomBuffer) AddMessage(ctx context.Context, msg chat.Message) error {
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	pipe := b.client.Pipeline()

	// push before marking dirty so a concurrent flush cannot clear the flag
	// without seeing the message
	pipe.RPush(ctx, fmt.Sprintf(keyRoomMessages, msg.SessionID), msgJSON)
	pipe.SAdd(ctx, keyDirtyRoomsMessages, msg.SessionID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add message to redis: %w", err)
	}

	return nil
}

// returns the unflushed messages of a room without removing them
func (b *RoomBuffer) PeekMessages(ctx context.Context, roomID string) ([]chat.Message, error) {
	msgJSONs, err := b.client.LRange(ctx, fmt.Sprintf(keyRoomMessages, roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read buffered messages: %w", err)
	}

	return decodeMessages(roomID, msgJSONs), nil
}

// returns all room IDs with unflushed document checkpoints
func (b *RoomBuffer) GetDirtyDocumentRooms(ctx context.Context) ([]string, error) {
	return b.client.SMembers(ctx, keyDirtyRoomsDocuments).Result()
}

// returns all room IDs with unflushed messages
func (b *RoomBuffer) GetDirtyMessageRooms(ctx context.Context) ([]string, error) {
	return b.client.SMembers(ctx, keyDirtyRoomsMessages).Result()
}

// clears the dirty flag and returns the buffered checkpoint.
// the checkpoint stays in redis for reads.
func (b *RoomBuffer) FlushDocument(ctx context.Context, roomID string) (*rooms.Document, error) {
	// clear first: a write racing with the flush marks the room dirty again
	if err := b.client.SRem(ctx, keyDirtyRoomsDocuments, roomID).Err(); err != nil {
		return nil, fmt.Errorf("failed to clear dirty document flag: %w", err)
	}

	return b.GetDocument(ctx, roomID)
}

// removes and returns every buffered message for a room
func (b *RoomBuffer) FlushMessages(ctx context.Context, roomID string) ([]chat.Message, error) {
	if err := b.client.SRem(ctx, keyDirtyRoomsMessages, roomID).Err(); err != nil {
		return nil, fmt.Errorf("failed to clear dirty message flag: %w", err)
	}

	msgKey := fmt.Sprintf(keyRoomMessages, roomID)

	var messages []chat.Message
	for {
		msgJSONs, err := b.client.LPopCount(ctx, msgKey, flushBatchSize).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			if len(messages) > 0 {
				// keep what was already popped for the caller
				logger.ErrorErr(err, "failed to pop buffered messages", "room_id", roomID)
				break
			}
			return nil, fmt.Errorf("failed to pop messages for flush: %w", err)
		}

		messages = append(messages, decodeMessages(roomID, msgJSONs)...)

		if len(msgJSONs) < flushBatchSize {
			break
		}
	}

	return messages, nil
}

// puts messages back after a failed flush
func (b *RoomBuffer) RequeueMessages(ctx context.Context, roomID string, msgs []chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	values := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		msgJSON, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		values = append(values, msgJSON)
	}

	pipe := b.client.Pipeline()
	pipe.RPush(ctx, fmt.Sprintf(keyRoomMessages, roomID), values...)
	pipe.SAdd(ctx, keyDirtyRoomsMessages, roomID)

	_, err := pipe.Exec(ctx)
	return err
}

// marks a room's document dirty again after a failed flush
func (b *RoomBuffer) MarkDocumentDirty(ctx context.Context, roomID string) error {
	return b.client.SAdd(ctx, keyDirtyRoomsDocuments, roomID).Err()
}

// removes all buffered data for a room
func (b *RoomBuffer) ClearRoom(ctx context.Context, roomID string) error {
	pipe := b.client.Pipeline()
	pipe.Del(ctx, fmt.Sprintf(keyRoomDocument, roomID))
	pipe.Del(ctx, fmt.Sprintf(keyRoomMessages, roomID))
	pipe.SRem(ctx, keyDirtyRoomsDocuments, roomID)
	pipe.SRem(ctx, keyDirtyRoomsMessages, roomID)

	_, err := pipe.Exec(ctx)
	return err
}

// returns the underlying Redis client for advanced operations
func (b *RoomBuffer) Client() *redis.Client {
	return b.client
}

func decodeMessages(roomID string, msgJSONs []string) []chat.Message {
	messages := make([]chat.Message, 0, len(msgJSONs))

	for _, msgJSON := range msgJSONs {
		var msg chat.Message
		if err := json.Unmarshal([]byte(msgJSON), &msg); err != nil {
			logger.ErrorErr(err, "failed to unmarshal buffered message", "room_id", roomID)
			continue
		}
		messages = append(messages, msg)
	}

	return messages
}
