package document

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"codeberg.org/algopatterns/cowrite/internal/conflict"
	"codeberg.org/algopatterns/cowrite/internal/ot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, limit int, seed Seed) *Store {
	t.Helper()

	store := NewStore(conflict.NewResolver(), limit)
	require.True(t, store.Open("s1", seed))
	t.Cleanup(func() { store.CloseAll() })

	return store
}

func submit(t *testing.T, store *Store, base int64, user string, ops ...ot.Operation) *ApplyResult {
	t.Helper()

	result, err := store.Apply(context.Background(), "s1", Submission{
		Operations:  ops,
		BaseVersion: base,
		UserID:      user,
	})
	require.NoError(t, err)

	return result
}

func snapshot(t *testing.T, store *Store) Snapshot {
	t.Helper()

	snap, err := store.Snapshot(context.Background(), "s1")
	require.NoError(t, err)

	return snap
}

func TestApply_ConcurrentInsertsAtSamePosition(t *testing.T) {
	store := newTestStore(t, 0, Seed{Content: "hello", Version: 5})

	first := submit(t, store, 5, "userA", ot.Insert(0, "X", ""))
	second := submit(t, store, 5, "userB", ot.Insert(0, "Y", ""))

	assert.Equal(t, int64(6), first.Version)
	assert.Equal(t, int64(7), second.Version)

	snap := snapshot(t, store)
	assert.Equal(t, int64(7), snap.Version)
	assert.Equal(t, "XYhello", snap.Content)

	// the peer that saw B first reaches the same content
	peer, err := ot.ApplyString("hello", ot.Insert(0, "Y", "userB"))
	require.NoError(t, err)
	aPrime := ot.Transform(ot.Insert(0, "X", "userA"), ot.Insert(0, "Y", "userB"))
	peer, err = ot.ApplyString(peer, aPrime...)
	require.NoError(t, err)
	assert.Equal(t, snap.Content, peer)
}

func TestApply_DeleteWithConcurrentInsertInside(t *testing.T) {
	original := "0123456789"
	store := newTestStore(t, 0, Seed{Content: original})

	submit(t, store, 0, "b", ot.Insert(3, "Z", ""))
	result := submit(t, store, 0, "a", ot.Delete(2, 3, ""))

	snap := snapshot(t, store)
	assert.Equal(t, "01Z56789", snap.Content)
	assert.Len(t, []rune(snap.Content), len(original)-3+1)
	assert.Len(t, result.Entry.Operations, 2)
}

func TestApply_VersionIsMonotonic(t *testing.T) {
	store := newTestStore(t, 0, Seed{})

	var wg sync.WaitGroup
	versions := make(chan int64, 40)

	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := store.Apply(context.Background(), "s1", Submission{
				Operations:  []ot.Operation{ot.Insert(0, "x", "")},
				BaseVersion: 0,
				UserID:      fmt.Sprintf("u%d", i),
			})
			if err == nil {
				versions <- result.Version
			}
		}(i)
	}
	wg.Wait()
	close(versions)

	seen := make(map[int64]bool)
	for v := range versions {
		assert.False(t, seen[v], "version %d assigned twice", v)
		seen[v] = true
	}

	assert.Len(t, seen, 40)
	assert.Equal(t, int64(40), snapshot(t, store).Version)
}

func TestApply_ReplayReproducesContent(t *testing.T) {
	store := newTestStore(t, 5, Seed{Content: "seed"})

	for i := 0; i < 12; i++ {
		submit(t, store, int64(i), "u", ot.Insert(i%4, fmt.Sprintf("%d", i%10), ""))
		if i%3 == 0 {
			submit(t, store, int64(i+1+i/3), "v", ot.Delete(0, 1, ""))
		}
	}

	snap := snapshot(t, store)

	replayed, err := store.ContentAt(context.Background(), "s1", snap.Version)
	require.NoError(t, err)
	assert.Equal(t, snap.Content, replayed)

	entries, err := store.HistorySince(context.Background(), "s1", snap.Version-5)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestApply_StaleVersionAfterEviction(t *testing.T) {
	store := newTestStore(t, 3, Seed{Content: "abc"})

	for i := 0; i < 5; i++ {
		submit(t, store, int64(i), "u", ot.Insert(0, "x", ""))
	}

	_, err := store.Apply(context.Background(), "s1", Submission{
		Operations:  []ot.Operation{ot.Insert(0, "late", "")},
		BaseVersion: 1,
		UserID:      "v",
	})
	assert.ErrorIs(t, err, ErrStaleVersion)

	// the oldest still-retained base is accepted
	result := submit(t, store, 2, "v", ot.Insert(0, "ok", ""))
	assert.Equal(t, int64(6), result.Version)

	_, err = store.HistorySince(context.Background(), "s1", 0)
	assert.ErrorIs(t, err, ErrStaleVersion)
}

func TestApply_Malformed(t *testing.T) {
	store := newTestStore(t, 0, Seed{Content: "abc"})

	tests := []struct {
		name string
		sub  Submission
	}{
		{"empty batch", Submission{UserID: "u"}},
		{"future base", Submission{UserID: "u", BaseVersion: 9, Operations: []ot.Operation{ot.Insert(0, "x", "")}}},
		{"out of bounds", Submission{UserID: "u", Operations: []ot.Operation{ot.Delete(2, 5, "")}}},
		{"bad type", Submission{UserID: "u", Operations: []ot.Operation{{Type: "splice"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Apply(context.Background(), "s1", tt.sub)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}

	snap := snapshot(t, store)
	assert.Equal(t, "abc", snap.Content)
	assert.Equal(t, int64(0), snap.Version)
}

func TestApply_DuplicateSubmissionIsAcknowledgedOnce(t *testing.T) {
	store := newTestStore(t, 0, Seed{Content: "abc"})

	sub := Submission{
		Operations:  []ot.Operation{ot.Insert(3, "!", "")},
		BaseVersion: 0,
		UserID:      "u",
		ReplicaID:   "r1",
		ClientSeq:   1,
	}

	first, err := store.Apply(context.Background(), "s1", sub)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	again, err := store.Apply(context.Background(), "s1", sub)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)

	snap := snapshot(t, store)
	assert.Equal(t, "abc!", snap.Content)
	assert.Equal(t, uint64(1), snap.ReplicaSeqs["r1"])
}

func TestApply_UnknownDocument(t *testing.T) {
	store := NewStore(conflict.NewResolver(), 0)

	_, err := store.Apply(context.Background(), "nope", Submission{})
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestResolve_ConcurrentEditMerges(t *testing.T) {
	store := newTestStore(t, 0, Seed{Content: "one\ntwo\nthree\n"})

	// someone else edits the last line at v1
	submit(t, store, 0, "remote", ot.Replace(8, 5, "THREE", ""))

	result, err := store.Resolve(context.Background(), "s1", ResolveRequest{
		Type:        conflict.TypeConcurrentEdit,
		UserID:      "local",
		BaseVersion: 0,
		Content:     "ONE\ntwo\nthree\n",
	})
	require.NoError(t, err)

	assert.True(t, result.Record.Resolved)
	assert.Equal(t, int64(2), result.Version)
	assert.Equal(t, int64(2), result.Record.Version)

	snap := snapshot(t, store)
	assert.Equal(t, "ONE\ntwo\nTHREE\n", snap.Content)

	replayed, err := store.ContentAt(context.Background(), "s1", 2)
	require.NoError(t, err)
	assert.Equal(t, snap.Content, replayed)

	records, err := store.Conflicts(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestResolve_BranchOutsideWindowBecomesVersionMismatch(t *testing.T) {
	store := newTestStore(t, 2, Seed{Content: "abc"})

	for i := 0; i < 4; i++ {
		submit(t, store, int64(i), "u", ot.Insert(0, "x", ""))
	}

	result, err := store.Resolve(context.Background(), "s1", ResolveRequest{
		Type:        conflict.TypeConcurrentEdit,
		UserID:      "late",
		BaseVersion: 0,
		Content:     "abc!",
	})
	require.NoError(t, err)

	assert.Equal(t, conflict.TypeVersionMismatch, result.Record.Type)
	assert.True(t, result.Record.DiscardPending)
	assert.Equal(t, "xxxxabc", result.Record.ResolvedContent)
	assert.Equal(t, int64(5), result.Version)
	assert.Empty(t, result.Entry.Operations)
}

func TestResolve_FailClosedLeavesDocumentUnchanged(t *testing.T) {
	store := newTestStore(t, 0, Seed{Content: "text\n"})

	result, err := store.Resolve(context.Background(), "s1", ResolveRequest{
		Type:        conflict.TypeConcurrentEdit,
		UserID:      "u",
		BaseVersion: 0,
		Content:     "bin\x00ary",
	})
	assert.ErrorIs(t, err, conflict.ErrConflictUnresolved)
	require.NotNil(t, result)
	assert.False(t, result.Record.Resolved)

	snap := snapshot(t, store)
	assert.Equal(t, "text\n", snap.Content)
	assert.Equal(t, int64(0), snap.Version)

	records, err := store.Conflicts(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, conflict.StrategyFailClosed, records[0].Strategy)
}

func TestClose_ReturnsFinalSnapshotAndRejectsWork(t *testing.T) {
	store := NewStore(conflict.NewResolver(), 0)
	store.Open("s1", Seed{Content: "a"})

	_, err := store.Apply(context.Background(), "s1", Submission{
		Operations: []ot.Operation{ot.Insert(1, "b", "")},
		UserID:     "u",
	})
	require.NoError(t, err)

	snap, err := store.Close("s1")
	require.NoError(t, err)
	assert.Equal(t, "ab", snap.Content)
	assert.Equal(t, int64(1), snap.Version)

	_, err = store.Snapshot(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.False(t, store.Has("s1"))

	assert.True(t, store.Open("s2", Seed{}))
	assert.Len(t, store.slots, 1)
}

func TestApply_CanceledContext(t *testing.T) {
	store := newTestStore(t, 0, Seed{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Snapshot(ctx, "s1")
	// either the task won the race or the cancellation did
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestReads_QueuedPastDeadlineReturnZeroValues(t *testing.T) {
	store := newTestStore(t, 0, Seed{Content: "hello", Version: 5})

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = store.run(context.Background(), "s1", func(*Document) {
			close(started)
			<-release
		})
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	snap, err := store.Snapshot(ctx, "s1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Snapshot{}, snap)

	synced, entries, retained, err := store.Sync(ctx, "s1", 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Snapshot{}, synced)
	assert.Nil(t, entries)
	assert.False(t, retained)

	records, err := store.Conflicts(ctx, "s1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, records)
}

func TestOnCommit_RunsInVersionOrder(t *testing.T) {
	store := NewStore(conflict.NewResolver(), 0)

	var (
		mu       sync.Mutex
		versions []int64
	)
	store.OnCommit(func(sessionID string, entry HistoryEntry) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "s1", sessionID)
		versions = append(versions, entry.Version)
	})

	require.True(t, store.Open("s1", Seed{}))
	t.Cleanup(func() { store.CloseAll() })

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Apply(context.Background(), "s1", Submission{
				Operations: []ot.Operation{ot.Insert(0, "x", "")},
				UserID:     fmt.Sprintf("user-%d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// a duplicate is not a new version
	sub := Submission{Operations: []ot.Operation{ot.Insert(0, "y", "")}, BaseVersion: 20, UserID: "a", ReplicaID: "r1", ClientSeq: 1}
	_, err := store.Apply(context.Background(), "s1", sub)
	require.NoError(t, err)
	_, err = store.Apply(context.Background(), "s1", sub)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, versions, 21)
	for i, v := range versions {
		assert.Equal(t, int64(i+1), v)
	}
}

func TestSync_HistoryOrSnapshot(t *testing.T) {
	store := newTestStore(t, 3, Seed{Content: "abc"})

	for i := range 5 {
		submit(t, store, int64(i), "a", ot.Insert(0, "x", ""))
	}

	snap, entries, retained, err := store.Sync(context.Background(), "s1", 3)
	require.NoError(t, err)
	assert.True(t, retained)
	assert.Equal(t, int64(5), snap.Version)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(4), entries[0].Version)

	snap, entries, retained, err = store.Sync(context.Background(), "s1", 5)
	require.NoError(t, err)
	assert.True(t, retained)
	assert.Empty(t, entries)
	assert.Equal(t, "xxxxxabc", snap.Content)

	// evicted
	_, entries, retained, err = store.Sync(context.Background(), "s1", 1)
	require.NoError(t, err)
	assert.False(t, retained)
	assert.Nil(t, entries)
}
