package client

import (
	"fmt"
	"slices"

	"codeberg.org/algopatterns/cowrite/internal/collab"
	"codeberg.org/algopatterns/cowrite/internal/ot"
)

// Replica is the client half of the transform protocol. It tracks the last
// confirmed server state and the local batches not yet acknowledged, and
// keeps those batches expressed against the confirmed state as remote
// edits arrive. Only one batch is in flight at a time.
//
// A Replica is not safe for concurrent use.
type Replica struct {
	id     string
	userID string

	confirmed string
	version   int64
	local     string

	pending  []*Batch
	inflight bool
	seq      uint64
}

func NewReplica(id, userID string) *Replica {
	return &Replica{id: id, userID: userID}
}

// Restore loads persisted state, typically from an outbox.
func (r *Replica) Restore(state OutboxState) {
	r.confirmed = state.Content
	r.version = state.Version
	r.seq = state.LastSeq
	r.inflight = false
	r.pending = r.pending[:0]

	for _, b := range state.Batches {
		b.Operations = slices.Clone(b.Operations)
		r.pending = append(r.pending, &b)
		r.seq = max(r.seq, b.ClientSeq)
	}

	r.rebuild()
}

// State returns what should be persisted.
func (r *Replica) State() OutboxState {
	state := OutboxState{
		ReplicaID: r.id,
		Version:   r.version,
		Content:   r.confirmed,
		LastSeq:   r.seq,
		Batches:   make([]Batch, 0, len(r.pending)),
	}

	for _, b := range r.pending {
		copied := *b
		copied.Operations = slices.Clone(b.Operations)
		state.Batches = append(state.Batches, copied)
	}

	return state
}

func (r *Replica) ID() string { return r.id }

// Content is the local view: confirmed state plus every pending batch.
func (r *Replica) Content() string { return r.local }

// Version is the last server version this replica has seen.
func (r *Replica) Version() int64 { return r.version }

// Pending counts batches not yet acknowledged, including the one in flight.
func (r *Replica) Pending() int { return len(r.pending) }

// Edit applies ops to the local view and queues them as a new batch.
func (r *Replica) Edit(ops ...ot.Operation) error {
	if len(ops) == 0 {
		return nil
	}

	batch := make([]ot.Operation, len(ops))
	for i, op := range ops {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
		op.UserID = r.userID
		batch[i] = op
	}

	next, err := ot.ApplyString(r.local, batch...)
	if err != nil {
		return err
	}

	r.seq++
	r.pending = append(r.pending, &Batch{
		ClientSeq:   r.seq,
		BaseVersion: r.version,
		Operations:  batch,
	})
	r.local = next

	return nil
}

// Next marks the oldest pending batch in flight and returns it ready to
// send. It returns false while a batch is already in flight.
func (r *Replica) Next() (Batch, bool) {
	if r.inflight || len(r.pending) == 0 {
		return Batch{}, false
	}

	// queued batches are kept expressed against the confirmed state
	b := r.pending[0]
	b.BaseVersion = r.version
	for i := range b.Operations {
		b.Operations[i].BaseVersion = b.BaseVersion
	}

	r.inflight = true

	out := *b
	out.Operations = slices.Clone(b.Operations)
	return out, true
}

// Ack confirms the batch in flight. ops are the operations as the server
// applied them, which become part of the confirmed state.
func (r *Replica) Ack(clientSeq uint64, version int64, ops []ot.Operation, duplicate bool) error {
	if len(r.pending) == 0 || r.pending[0].ClientSeq != clientSeq {
		if clientSeq <= r.seq && version <= r.version {
			// a resync already folded it in
			return nil
		}
		return fmt.Errorf("%w: client_seq %d", ErrUnknownBatch, clientSeq)
	}

	r.pending = r.pending[1:]
	r.inflight = false
	defer r.rebuild()

	if version <= r.version {
		// already folded in by a replay
		return nil
	}

	if duplicate || version != r.version+1 {
		return fmt.Errorf("%w: ack for version %d at %d", ErrVersionGap, version, r.version)
	}

	confirmed, err := ot.ApplyString(r.confirmed, ops...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVersionGap, err)
	}

	r.confirmed = confirmed
	r.version = version

	return nil
}

// Requeue puts the batch in flight back at the head of the queue. Used when
// the connection that carried it is gone, or when the server discarded it
// without applying it; either way it is sent again after the next resync.
func (r *Replica) Requeue() {
	r.inflight = false
}

// Remote folds in someone else's batch, committed as version.
func (r *Replica) Remote(version int64, ops []ot.Operation) error {
	if version <= r.version {
		return nil
	}

	if version != r.version+1 {
		return fmt.Errorf("%w: remote version %d at %d", ErrVersionGap, version, r.version)
	}

	confirmed, err := ot.ApplyString(r.confirmed, ops...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVersionGap, err)
	}

	remote := ops
	for _, b := range r.pending {
		b.Operations, remote = ot.TransformPair(b.Operations, remote)
	}

	r.confirmed = confirmed
	r.version = version
	r.rebuild()

	return nil
}

// Resync applies a room state. Retained history is replayed exactly; a
// snapshot replaces the confirmed state, drops batches the server already
// applied and reapplies the rest onto the new content, clamped to fit.
// Queued batches are then sent against the snapshot version.
func (r *Replica) Resync(state collab.RoomState) error {
	if state.Replayable {
		for _, entry := range state.Operations {
			if entry.Version <= r.version {
				continue
			}

			if entry.ReplicaID == r.id && len(r.pending) > 0 && r.pending[0].ClientSeq == entry.ClientSeq {
				if err := r.Ack(entry.ClientSeq, entry.Version, entry.Operations, false); err != nil {
					return err
				}
				continue
			}

			if err := r.Remote(entry.Version, entry.Operations); err != nil {
				return err
			}
		}

		r.dropApplied(state.LastClientSeq)
		r.rebuild()
		return nil
	}

	snap := state.Document
	if snap.Version < r.version {
		return fmt.Errorf("%w: snapshot version %d behind %d", ErrVersionGap, snap.Version, r.version)
	}

	r.confirmed = snap.Content
	r.version = snap.Version
	r.dropApplied(state.LastClientSeq)
	r.rebuild()
	return nil
}

// dropApplied removes batches the server reports as already applied.
func (r *Replica) dropApplied(lastClientSeq uint64) {
	kept := r.pending[:0]
	for i, b := range r.pending {
		if b.ClientSeq > lastClientSeq {
			kept = append(kept, b)
			continue
		}
		if i == 0 {
			// its acknowledgement is now a no-op
			r.inflight = false
		}
	}
	r.pending = kept
}

// rebuild recomputes the local view, clamping operations that no longer
// fit and dropping batches that became empty.
func (r *Replica) rebuild() {
	cur := []rune(r.confirmed)
	kept := r.pending[:0]

	for i, b := range r.pending {
		ops := b.Operations[:0]
		for _, op := range b.Operations {
			op = ot.Clamp(op, len(cur))
			if op.IsNoop() {
				continue
			}

			next, err := ot.Apply(cur, op)
			if err != nil {
				continue
			}

			cur = next
			ops = append(ops, op)
		}
		b.Operations = ops

		if len(ops) > 0 || (i == 0 && r.inflight) {
			kept = append(kept, b)
		}
	}

	r.pending = kept
	r.local = string(cur)
}
