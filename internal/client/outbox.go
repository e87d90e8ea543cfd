package client

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

// Outbox persists a replica's unsent batches per room.
type Outbox interface {
	Load(roomID string) (OutboxState, bool, error)
	Store(roomID string, state OutboxState) error
	Close() error
}

// MemoryOutbox keeps state for the life of the process only.
type MemoryOutbox struct {
	mu    sync.Mutex
	rooms map[string]OutboxState
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{rooms: make(map[string]OutboxState)}
}

func (m *MemoryOutbox) Load(roomID string) (OutboxState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.rooms[roomID]
	state.Batches = slices.Clone(state.Batches)
	return state, ok, nil
}

func (m *MemoryOutbox) Store(roomID string, state OutboxState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state.Batches = slices.Clone(state.Batches)
	m.rooms[roomID] = state
	return nil
}

func (m *MemoryOutbox) Close() error { return nil }

var outboxBucket = []byte("outbox")

// deterministic encoding so an unchanged state writes identical bytes
var outboxEncMode = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	mode, err := opts.EncMode()
	if err != nil {
		panic("client: CBOR encoder initialization failed: " + err.Error())
	}
	return mode
}()

// BoltOutbox stores one CBOR record per room in a bbolt file, so edits
// made offline survive a client restart.
type BoltOutbox struct {
	db *bolt.DB
}

func OpenBoltOutbox(path string) (*BoltOutbox, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(outboxBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create outbox bucket: %w", err)
	}

	return &BoltOutbox{db: db}, nil
}

func (o *BoltOutbox) Load(roomID string) (OutboxState, bool, error) {
	var state OutboxState
	found := false

	err := o.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(outboxBucket).Get([]byte(roomID))
		if raw == nil {
			return nil
		}

		found = true
		return cbor.Unmarshal(raw, &state)
	})
	if err != nil {
		return OutboxState{}, false, fmt.Errorf("failed to load outbox for %s: %w", roomID, err)
	}

	return state, found, nil
}

func (o *BoltOutbox) Store(roomID string, state OutboxState) error {
	raw, err := outboxEncMode.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode outbox: %w", err)
	}

	return o.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(outboxBucket).Put([]byte(roomID), raw)
	})
}

func (o *BoltOutbox) Close() error {
	return o.db.Close()
}
