package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/algopatterns/cowrite/internal/collab"
	"codeberg.org/algopatterns/cowrite/internal/conflict"
	"codeberg.org/algopatterns/cowrite/internal/document"
	"codeberg.org/algopatterns/cowrite/internal/ot"
)

func seeded(id, user, content string, version int64) *Replica {
	r := NewReplica(id, user)
	r.Restore(OutboxState{ReplicaID: id, Content: content, Version: version})
	return r
}

func TestReplica_EditQueuesBatches(t *testing.T) {
	r := seeded("r1", "alice", "abc", 3)

	require.NoError(t, r.Edit(ot.Insert(3, "d", "")))
	require.NoError(t, r.Edit(ot.Delete(0, 1, "")))
	assert.Equal(t, "bcd", r.Content())
	assert.Equal(t, 2, r.Pending())

	batch, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(1), batch.ClientSeq)
	assert.Equal(t, int64(3), batch.BaseVersion)
	assert.Equal(t, "alice", batch.Operations[0].UserID)

	// one in flight at a time
	_, ok = r.Next()
	assert.False(t, ok)
}

func TestReplica_EditRejectsInvalid(t *testing.T) {
	r := seeded("r1", "alice", "abc", 0)

	assert.ErrorIs(t, r.Edit(ot.Insert(10, "x", "")), ot.ErrOutOfBounds)
	assert.ErrorIs(t, r.Edit(ot.Delete(0, 0, "")), ot.ErrEmptyDelete)
	assert.Equal(t, 0, r.Pending())
	assert.Equal(t, "abc", r.Content())
}

func TestReplica_AckAdvancesConfirmed(t *testing.T) {
	r := seeded("r1", "alice", "abc", 0)
	require.NoError(t, r.Edit(ot.Insert(3, "d", "")))

	batch, _ := r.Next()
	require.NoError(t, r.Ack(batch.ClientSeq, 1, batch.Operations, false))

	assert.Equal(t, int64(1), r.Version())
	assert.Equal(t, "abcd", r.Content())
	assert.Equal(t, 0, r.Pending())

	assert.ErrorIs(t, r.Ack(9, 2, nil, false), ErrUnknownBatch)
}

func TestReplica_RemoteTransformsPending(t *testing.T) {
	r := seeded("r1", "alice", "abc", 0)
	require.NoError(t, r.Edit(ot.Insert(3, "X", "")))

	require.NoError(t, r.Remote(1, []ot.Operation{ot.Insert(0, "Z", "bob")}))
	assert.Equal(t, "ZabcX", r.Content())
	assert.Equal(t, int64(1), r.Version())

	batch, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, int64(1), batch.BaseVersion)
	assert.Equal(t, 4, batch.Operations[0].Position)
}

func TestReplica_RemoteGap(t *testing.T) {
	r := seeded("r1", "alice", "abc", 0)

	assert.ErrorIs(t, r.Remote(2, []ot.Operation{ot.Insert(0, "x", "bob")}), ErrVersionGap)

	// already seen
	require.NoError(t, r.Remote(0, []ot.Operation{ot.Insert(0, "x", "bob")}))
	assert.Equal(t, "abc", r.Content())
}

func TestReplica_RequeueKeepsDiscardedBatch(t *testing.T) {
	r := seeded("r1", "alice", "abc", 3)
	require.NoError(t, r.Edit(ot.Insert(0, "X", "")))

	first, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, int64(3), first.BaseVersion)

	// the server discarded it; it goes out again against the fresh snapshot
	r.Requeue()
	require.NoError(t, r.Resync(collab.RoomState{
		Document: document.Snapshot{Content: "abc and more", Version: 41},
	}))

	assert.Equal(t, "Xabc and more", r.Content())
	assert.Equal(t, 1, r.Pending())

	again, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, first.ClientSeq, again.ClientSeq)
	assert.Equal(t, int64(41), again.BaseVersion)
	assert.Equal(t, int64(41), again.Operations[0].BaseVersion)
}

func TestReplica_AckAfterSnapshotIsIgnored(t *testing.T) {
	r := seeded("r1", "alice", "abc", 3)
	require.NoError(t, r.Edit(ot.Insert(0, "X", "")))
	batch, _ := r.Next()

	// the snapshot already contains the batch in flight
	require.NoError(t, r.Resync(collab.RoomState{
		Document:      document.Snapshot{Content: "Xabc", Version: 4},
		LastClientSeq: batch.ClientSeq,
	}))
	assert.Equal(t, 0, r.Pending())

	require.NoError(t, r.Ack(batch.ClientSeq, 4, batch.Operations, false))
	assert.Equal(t, "Xabc", r.Content())
	assert.Equal(t, int64(4), r.Version())

	require.NoError(t, r.Edit(ot.Insert(4, "!", "")))
	next, ok := r.Next()
	require.True(t, ok, "nothing is left in flight")
	assert.Equal(t, int64(4), next.BaseVersion)
}

func TestReplica_ResyncReplaysHistory(t *testing.T) {
	r := seeded("r1", "alice", "abc", 1)
	require.NoError(t, r.Edit(ot.Insert(3, "!", "")))
	_, _ = r.Next()
	r.Requeue()

	err := r.Resync(collab.RoomState{
		Replayable: true,
		Operations: []document.HistoryEntry{
			{Version: 1, Operations: []ot.Operation{ot.Insert(0, "old", "bob")}},
			{Version: 2, Operations: []ot.Operation{ot.Insert(0, ">", "bob")}, ReplicaID: "r2"},
			{Version: 3, Operations: []ot.Operation{ot.Insert(4, "!", "alice")}, ReplicaID: "r1", ClientSeq: 1},
		},
		LastClientSeq: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3), r.Version())
	assert.Equal(t, ">abc!", r.Content())
	assert.Equal(t, 0, r.Pending())
}

func TestReplica_ResyncSnapshot(t *testing.T) {
	r := seeded("r1", "alice", "abcdef", 2)
	require.NoError(t, r.Edit(ot.Insert(0, "1", "")))
	require.NoError(t, r.Edit(ot.Delete(1, 3, "")))
	require.NoError(t, r.Edit(ot.Insert(0, "3", "")))

	err := r.Resync(collab.RoomState{
		Document:      document.Snapshot{Content: "xy", Version: 7},
		LastClientSeq: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(7), r.Version())
	// batch 1 was applied upstream; batch 2 is clamped to the new content
	assert.Equal(t, 2, r.Pending())
	assert.Equal(t, "3x", r.Content())

	batch, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(2), batch.ClientSeq)
	assert.Equal(t, int64(7), batch.BaseVersion, "reapplied against the snapshot")

	assert.ErrorIs(t, r.Resync(collab.RoomState{Document: document.Snapshot{Version: 1}}), ErrVersionGap)
}

func TestReplica_StateRoundTrip(t *testing.T) {
	r := seeded("r1", "alice", "abc", 4)
	require.NoError(t, r.Edit(ot.Insert(0, "x", "")))

	restored := NewReplica("r1", "alice")
	restored.Restore(r.State())

	assert.Equal(t, "xabc", restored.Content())
	assert.Equal(t, int64(4), restored.Version())
	assert.Equal(t, 1, restored.Pending())

	// sequence numbers continue after a restart
	require.NoError(t, restored.Edit(ot.Insert(0, "y", "")))
	assert.Equal(t, uint64(2), restored.State().LastSeq)
}

// two replicas editing concurrently through the real apply loop end up
// with the server's content
func TestReplica_ConvergesWithStore(t *testing.T) {
	ctx := context.Background()
	store := document.NewStore(conflict.NewResolver(), 0)
	store.Open("doc", document.Seed{Content: "hello world"})
	t.Cleanup(func() { store.CloseAll() })

	a := seeded("A", "alice", "hello world", 0)
	b := seeded("B", "bob", "hello world", 0)

	require.NoError(t, a.Edit(ot.Insert(5, ",", "")))
	require.NoError(t, b.Edit(ot.Delete(0, 5, "")))
	require.NoError(t, b.Edit(ot.Insert(0, "goodbye", "")))

	submit := func(r *Replica, user string, batch Batch) *document.ApplyResult {
		res, err := store.Apply(ctx, "doc", document.Submission{
			Operations:  batch.Operations,
			BaseVersion: batch.BaseVersion,
			UserID:      user,
			ReplicaID:   r.ID(),
			ClientSeq:   batch.ClientSeq,
		})
		require.NoError(t, err)
		return res
	}

	// both first batches are cut against version 0
	aBatch, ok := a.Next()
	require.True(t, ok)
	bBatch, ok := b.Next()
	require.True(t, ok)

	resA := submit(a, "alice", aBatch)
	resB := submit(b, "bob", bBatch)
	require.Equal(t, int64(2), resB.Version)

	require.NoError(t, a.Ack(aBatch.ClientSeq, resA.Version, resA.Entry.Operations, false))
	require.NoError(t, a.Remote(resB.Version, resB.Entry.Operations))

	require.NoError(t, b.Remote(resA.Version, resA.Entry.Operations))
	require.NoError(t, b.Ack(bBatch.ClientSeq, resB.Version, resB.Entry.Operations, false))

	next, ok := b.Next()
	require.True(t, ok)
	assert.Equal(t, int64(2), next.BaseVersion)

	resB2 := submit(b, "bob", next)
	require.NoError(t, b.Ack(next.ClientSeq, resB2.Version, resB2.Entry.Operations, false))
	require.NoError(t, a.Remote(resB2.Version, resB2.Entry.Operations))

	snap, err := store.Snapshot(ctx, "doc")
	require.NoError(t, err)

	assert.Equal(t, snap.Content, a.Content())
	assert.Equal(t, snap.Content, b.Content())
	assert.Equal(t, snap.Version, a.Version())
	assert.Equal(t, snap.Version, b.Version())
	assert.Contains(t, snap.Content, ",")
	assert.Contains(t, snap.Content, "goodbye")
	assert.NotContains(t, snap.Content, "hello")
}
