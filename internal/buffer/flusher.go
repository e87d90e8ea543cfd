package buffer

import (
	"context"
	"sync"
	"time"

	"codeberg.org/algopatterns/cowrite/cowrite/rooms"
	"codeberg.org/algopatterns/cowrite/internal/logger"
)

// handles periodic flushing of buffered data from Redis to Postgres
type Flusher struct {
	buffer   *RoomBuffer
	repo     rooms.Repository
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// creates a new flusher that periodically flushes Redis to Postgres
func NewFlusher(buffer *RoomBuffer, repo rooms.Repository, interval time.Duration) *Flusher {
	return &Flusher{
		buffer:   buffer,
		repo:     repo,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// begins the background flush loop
func (f *Flusher) Start() {
	f.wg.Add(1)
	go f.run()
	logger.Info("buffer flusher started", "interval", f.interval.String())
}

// gracefully stops the flusher and flushes any remaining data
func (f *Flusher) Stop() {
	close(f.stopCh)
	f.wg.Wait()
	logger.Info("buffer flusher stopped")
}

func (f *Flusher) run() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.flush()
		case <-f.stopCh:
			// final flush before stopping
			logger.Info("flushing remaining buffer data before shutdown")
			f.flush()
			return
		}
	}
}

func (f *Flusher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	f.flushDocuments(ctx)
	f.flushMessages(ctx)
}

func (f *Flusher) flushDocuments(ctx context.Context) {
	roomIDs, err := f.buffer.GetDirtyDocumentRooms(ctx)
	if err != nil {
		logger.ErrorErr(err, "failed to get dirty document rooms")
		return
	}

	if len(roomIDs) == 0 {
		return
	}

	logger.Debug("flushing documents for rooms", "count", len(roomIDs))

	for _, roomID := range roomIDs {
		if err := f.flushDocument(ctx, roomID); err != nil {
			logger.ErrorErr(err, "failed to persist document to postgres", "room_id", roomID)
		}
	}
}

func (f *Flusher) flushDocument(ctx context.Context, roomID string) error {
	doc, err := f.buffer.FlushDocument(ctx, roomID)
	if err != nil || doc == nil {
		return err
	}

	if err := f.repo.SaveDocument(ctx, doc); err != nil {
		// re-add to dirty set so we retry next flush
		f.buffer.MarkDocumentDirty(ctx, roomID) //nolint:errcheck,gosec // best-effort retry
		return err
	}

	logger.Debug("flushed document to postgres", "room_id", roomID, "version", doc.Version)
	return nil
}

func (f *Flusher) flushMessages(ctx context.Context) {
	roomIDs, err := f.buffer.GetDirtyMessageRooms(ctx)
	if err != nil {
		logger.ErrorErr(err, "failed to get dirty message rooms")
		return
	}

	if len(roomIDs) == 0 {
		return
	}

	logger.Debug("flushing messages for rooms", "count", len(roomIDs))

	for _, roomID := range roomIDs {
		if err := f.flushRoomMessages(ctx, roomID); err != nil {
			logger.ErrorErr(err, "failed to persist messages to postgres", "room_id", roomID)
		}
	}
}

func (f *Flusher) flushRoomMessages(ctx context.Context, roomID string) error {
	messages, err := f.buffer.FlushMessages(ctx, roomID)
	if err != nil || len(messages) == 0 {
		return err
	}

	if err := f.repo.AppendMessages(ctx, messages); err != nil {
		// appends are idempotent, so requeueing the whole batch is safe
		f.buffer.RequeueMessages(ctx, roomID, messages) //nolint:errcheck,gosec // best-effort retry
		return err
	}

	return nil
}

// immediately flushes all data for a specific room
func (f *Flusher) FlushRoom(ctx context.Context, roomID string) error {
	if err := f.flushDocument(ctx, roomID); err != nil {
		return err
	}

	return f.flushRoomMessages(ctx, roomID)
}
