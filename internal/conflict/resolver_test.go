package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge3(t *testing.T) {
	ancestor := "one\ntwo\nthree\nfour\n"

	tests := []struct {
		name          string
		local, remote string
		want          string
		conflicts     int
	}{
		{
			name:   "disjoint edits",
			local:  "ONE\ntwo\nthree\nfour\n",
			remote: "one\ntwo\nthree\nFOUR\n",
			want:   "ONE\ntwo\nthree\nFOUR\n",
		},
		{
			name:   "only remote changed",
			local:  ancestor,
			remote: "one\ntwo\n3\nfour\n",
			want:   "one\ntwo\n3\nfour\n",
		},
		{
			name:   "same change on both sides",
			local:  "one\n2\nthree\nfour\n",
			remote: "one\n2\nthree\nfour\n",
			want:   "one\n2\nthree\nfour\n",
		},
		{
			name:   "insertions at both ends",
			local:  "zero\n" + ancestor,
			remote: ancestor + "five\n",
			want:   "zero\none\ntwo\nthree\nfour\nfive\n",
		},
		{
			name:      "overlapping edit keeps both",
			local:     "one\nTWO-local\nthree\nfour\n",
			remote:    "one\nTWO-remote\nthree\nfour\n",
			want:      "one\nTWO-local\nTWO-remote\nthree\nfour\n",
			conflicts: 1,
		},
		{
			name:   "both delete the same line",
			local:  "one\nthree\nfour\n",
			remote: "one\nthree\nfour\n",
			want:   "one\nthree\nfour\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge3(ancestor, tt.local, tt.remote, "a", "b")
			assert.Equal(t, tt.want, got.Content)
			assert.Equal(t, tt.conflicts, got.Conflicts)
		})
	}
}

func TestMerge3_AdjacentChangesClash(t *testing.T) {
	got := Merge3("a\nb\n", "a!\nb\n", "a\nb!\n", "u1", "u2")
	assert.Equal(t, 1, got.Conflicts)
	assert.Equal(t, "a!\nb\na\nb!\n", got.Content)
}

func TestMerge3_AuthorOrderDecidesClashLayout(t *testing.T) {
	got := Merge3("x\n", "L\n", "R\n", "zed", "amy")
	assert.Equal(t, "R\nL\n", got.Content)
}

func TestMerge3_NoTrailingNewline(t *testing.T) {
	got := Merge3("a\nmid\nb", "a\nmid\nb!", "A\nmid\nb", "u1", "u2")
	assert.Equal(t, "A\nmid\nb!", got.Content)
	assert.Equal(t, 0, got.Conflicts)
}

func TestMergeResult_ConfidenceDropsWithOverlap(t *testing.T) {
	ancestor := "1\n2\n3\n4\n"

	clean := Merge3(ancestor, "1x\n2\n3\n4\n", "1\n2\n3\n4x\n", "a", "b")
	partial := Merge3(ancestor, "1x\n2x\n3\n4\n", "1\n2y\n3\n4x\n", "a", "b")
	full := Merge3(ancestor, "1a\n2a\n3a\n4a\n", "1b\n2b\n3b\n4b\n", "a", "b")

	assert.Equal(t, 1.0, clean.Confidence())
	assert.Less(t, partial.Confidence(), clean.Confidence())
	assert.Greater(t, partial.Confidence(), full.Confidence())
	assert.Equal(t, 0.0, full.Confidence())
}

func TestResolve_ConcurrentEdit(t *testing.T) {
	r := NewResolver()

	rec, err := r.Resolve(Request{
		Type:         TypeConcurrentEdit,
		Ancestor:     "a\nsep\nb\n",
		Local:        "a!\nsep\nb\n",
		Remote:       "a\nsep\nb!\n",
		LocalAuthor:  "u1",
		RemoteAuthor: "u2",
	})
	require.NoError(t, err)

	assert.True(t, rec.Resolved)
	assert.Equal(t, StrategyThreeWayMerge, rec.Strategy)
	assert.Equal(t, "a!\nsep\nb!\n", rec.ResolvedContent)
	assert.Equal(t, 1.0, rec.Confidence)
	assert.Equal(t, []string{"u1", "u2"}, rec.Authors)
	assert.NotEmpty(t, rec.ID)
}

func TestResolve_IsDeterministic(t *testing.T) {
	r := NewResolver()
	req := Request{
		Type:         TypeConcurrentEdit,
		Ancestor:     "x\ny\n",
		Local:        "x1\ny\n",
		Remote:       "x2\ny\n",
		LocalAuthor:  "u1",
		RemoteAuthor: "u2",
	}

	first, err := r.Resolve(req)
	require.NoError(t, err)
	second, err := r.Resolve(req)
	require.NoError(t, err)

	assert.Equal(t, first.ResolvedContent, second.ResolvedContent)
	assert.Equal(t, first.Confidence, second.Confidence)
}

func TestResolve_BinaryInputFailsClosed(t *testing.T) {
	r := NewResolver()

	rec, err := r.Resolve(Request{
		Type:         TypeConcurrentEdit,
		Ancestor:     "text",
		Local:        "bin\x00ary",
		Remote:       "text2",
		Current:      "authoritative",
		LocalAuthor:  "u1",
		RemoteAuthor: "u2",
	})

	assert.ErrorIs(t, err, ErrConflictUnresolved)
	assert.False(t, rec.Resolved)
	assert.Equal(t, StrategyFailClosed, rec.Strategy)
	assert.Equal(t, "authoritative", rec.ResolvedContent)
	assert.Equal(t, []string{"u1", "u2"}, rec.Authors)
}

func TestResolve_InvalidUTF8FailsClosed(t *testing.T) {
	_, err := NewResolver().Resolve(Request{
		Type:     TypeConcurrentEdit,
		Ancestor: "ok",
		Local:    string([]byte{0xff, 0xfe}),
		Remote:   "ok",
	})
	assert.ErrorIs(t, err, ErrConflictUnresolved)
}

func TestResolve_VersionMismatch(t *testing.T) {
	rec, err := NewResolver().Resolve(Request{Type: TypeVersionMismatch, Current: "server"})
	require.NoError(t, err)

	assert.Equal(t, "server", rec.ResolvedContent)
	assert.True(t, rec.DiscardPending)
	assert.Equal(t, 1.0, rec.Confidence)
}

func TestResolve_PermissionConflictDeniesLowerRank(t *testing.T) {
	rec, err := NewResolver().Resolve(Request{
		Type:    TypePermissionConflict,
		Current: "doc",
		Contenders: []Contender{
			{UserID: "viewer", Rank: 0},
			{UserID: "owner", Rank: 3},
			{UserID: "editor", Rank: 2},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"editor", "viewer"}, rec.Denied)
	assert.Equal(t, "doc", rec.ResolvedContent)
	assert.Equal(t, StrategyDenyLowerPrivilege, rec.Strategy)
}

func TestResolve_UnknownTypeFailsClosed(t *testing.T) {
	rec, err := NewResolver().Resolve(Request{Type: "mystery", Current: "c"})
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.False(t, rec.Resolved)
}
