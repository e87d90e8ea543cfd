package buffer

import (
	"context"
	"sort"

	"codeberg.org/algopatterns/cowrite/cowrite/rooms"
	"codeberg.org/algopatterns/cowrite/internal/chat"
	"codeberg.org/algopatterns/cowrite/internal/document"
	"codeberg.org/algopatterns/cowrite/internal/logger"
)

// checkpoints live rooms into Redis; the Flusher moves them to Postgres.
// reads prefer the buffer and fall through to the repository.
type BufferedRepository struct {
	db     rooms.Repository
	buffer *RoomBuffer
}

// creates a new buffered repository wrapper
func NewBufferedRepository(db rooms.Repository, buffer *RoomBuffer) *BufferedRepository {
	return &BufferedRepository{
		db:     db,
		buffer: buffer,
	}
}

// writes to Redis buffer instead of Postgres
func (r *BufferedRepository) SaveDocument(ctx context.Context, snap document.Snapshot) error {
	doc := rooms.DocumentFrom(snap)

	if err := r.buffer.SetDocument(ctx, doc); err != nil {
		logger.ErrorErr(err, "failed to buffer document", "room_id", snap.SessionID)
		// fall back to direct DB write
		return r.db.SaveDocument(ctx, doc)
	}

	return nil
}

// buffers to Redis instead of direct Postgres write
func (r *BufferedRepository) AppendChat(ctx context.Context, msg chat.Message) error {
	if err := r.buffer.AddMessage(ctx, msg); err != nil {
		logger.ErrorErr(err, "failed to buffer message", "room_id", msg.SessionID)
		// fall back to direct DB write
		return r.db.AppendMessages(ctx, []chat.Message{msg})
	}

	return nil
}

// returns the newest checkpoint from either store
func (r *BufferedRepository) LoadDocument(ctx context.Context, roomID string) (*document.Seed, error) {
	stored, err := r.db.LoadDocument(ctx, roomID)
	if err != nil {
		return nil, err
	}

	// check Redis for a fresher checkpoint (may not have been flushed yet)
	buffered, err := r.buffer.GetDocument(ctx, roomID)
	if err != nil {
		logger.Warn("failed to read buffered document", "room_id", roomID, "error", err)
	} else if buffered != nil && (stored == nil || buffered.Version > stored.Version) {
		stored = buffered
	}

	if stored == nil {
		return nil, nil
	}

	return rooms.SeedFrom(stored), nil
}

// returns the latest messages across Postgres and the unflushed buffer
func (r *BufferedRepository) LoadChat(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	stored, err := r.db.ListMessages(ctx, roomID, limit, "")
	if err != nil {
		return nil, err
	}

	pending, err := r.buffer.PeekMessages(ctx, roomID)
	if err != nil {
		logger.Warn("failed to read buffered messages", "room_id", roomID, "error", err)
		return stored, nil
	}

	return mergeMessages(stored, pending, limit), nil
}

// merges two message lists by id, oldest first, keeping the last limit
func mergeMessages(stored, pending []chat.Message, limit int) []chat.Message {
	seen := make(map[string]bool, len(stored)+len(pending))
	merged := make([]chat.Message, 0, len(stored)+len(pending))

	for _, list := range [][]chat.Message{stored, pending} {
		for _, m := range list {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			merged = append(merged, m)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Seq < merged[j].Seq })

	if limit > 0 && len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}

	return merged
}
