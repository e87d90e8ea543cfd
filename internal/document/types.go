package document

import (
	"time"

	"codeberg.org/algopatterns/cowrite/internal/conflict"
	"codeberg.org/algopatterns/cowrite/internal/ot"
)

const (
	// DefaultHistoryLimit bounds the entries kept for transforming late submissions.
	DefaultHistoryLimit = 1000

	// conflict records kept per document for auditing
	maxConflictRecords = 100

	// queued requests per document before submitters block
	queueSize = 64
)

// Submission is one batch of operations from a client replica.
type Submission struct {
	Operations  []ot.Operation
	BaseVersion int64
	UserID      string
	ReplicaID   string
	ClientSeq   uint64
}

// HistoryEntry records what produced one version.
type HistoryEntry struct {
	Version    int64          `json:"version"`
	Operations []ot.Operation `json:"operations"`
	UserID     string         `json:"user_id"`
	ReplicaID  string         `json:"replica_id,omitempty"`
	ClientSeq  uint64         `json:"client_seq,omitempty"`
	AppliedAt  time.Time      `json:"applied_at"`
}

// ApplyResult describes an accepted submission.
type ApplyResult struct {
	Entry     HistoryEntry
	Version   int64
	Duplicate bool // already applied; nothing changed
}

// Snapshot is a consistent copy of a document's state.
type Snapshot struct {
	SessionID      string            `json:"file_id"`
	Content        string            `json:"content"`
	Version        int64             `json:"version"`
	LastModified   time.Time         `json:"last_modified"`
	LastModifiedBy string            `json:"last_modified_by,omitempty"`
	Pending        int               `json:"pending_operations"`
	ReplicaSeqs    map[string]uint64 `json:"-"`
}

// Seed initializes a document, typically from a persisted checkpoint.
type Seed struct {
	Content        string
	Version        int64
	LastModified   time.Time
	LastModifiedBy string
}

// ResolveRequest asks the store to run the conflict resolver against
// the document's current state.
type ResolveRequest struct {
	Type       string
	UserID     string
	ReplicaID  string
	Operations []ot.Operation

	// concurrent_edit: the client's full content and the version it branched from
	BaseVersion int64
	Content     string

	Contenders []conflict.Contender
}

// ResolveResult carries the record and, when the version moved, the entry.
type ResolveResult struct {
	Record  conflict.Record
	Entry   HistoryEntry
	Version int64
}
