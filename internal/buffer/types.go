package buffer

import "time"

// redis key patterns
const (
	// room:{roomID}:document - hash with the latest checkpoint ("doc") and its version
	keyRoomDocument = "room:%s:document"

	// room:{roomID}:messages - unflushed chat messages as a JSON list
	keyRoomMessages = "room:%s:messages"

	// dirty_rooms:documents - set of room IDs with unflushed document checkpoints
	keyDirtyRoomsDocuments = "dirty_rooms:documents"

	// dirty_rooms:messages - set of room IDs with unflushed messages
	keyDirtyRoomsMessages = "dirty_rooms:messages"
)

const (
	// messages popped per round trip when flushing
	flushBatchSize = 500

	// time allowed for one flush pass
	flushTimeout = 30 * time.Second

	// documents stay readable from redis this long after their last write
	documentTTL = 24 * time.Hour
)
