package document

import (
	"fmt"
	"time"

	"codeberg.org/algopatterns/cowrite/internal/conflict"
	"codeberg.org/algopatterns/cowrite/internal/ot"
)

// Document is only touched by its store worker goroutine.
type Document struct {
	sessionID string

	content []rune
	version int64

	// history holds versions baseVersion+1 .. version
	history     []HistoryEntry
	baseContent []rune
	baseVersion int64

	lastModified   time.Time
	lastModifiedBy string

	conflicts   []conflict.Record
	replicaSeqs map[string]uint64
}

func newDocument(sessionID string, seed Seed) *Document {
	content := []rune(seed.Content)
	base := make([]rune, len(content))
	copy(base, content)

	return &Document{
		sessionID:      sessionID,
		content:        content,
		version:        seed.Version,
		baseContent:    base,
		baseVersion:    seed.Version,
		lastModified:   seed.LastModified,
		lastModifiedBy: seed.LastModifiedBy,
		replicaSeqs:    make(map[string]uint64),
	}
}

func (d *Document) apply(sub Submission, limit int, now time.Time) (*ApplyResult, error) {
	if sub.ReplicaID != "" && sub.ClientSeq > 0 && sub.ClientSeq <= d.replicaSeqs[sub.ReplicaID] {
		return &ApplyResult{Version: d.version, Duplicate: true}, nil
	}

	if len(sub.Operations) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrMalformed)
	}

	if sub.BaseVersion > d.version {
		return nil, fmt.Errorf("%w: base version %d is ahead of %d", ErrMalformed, sub.BaseVersion, d.version)
	}

	concurrent, err := d.since(sub.BaseVersion)
	if err != nil {
		return nil, err
	}

	ops := make([]ot.Operation, 0, len(sub.Operations))
	for i, op := range sub.Operations {
		if err := op.Validate(); err != nil {
			return nil, fmt.Errorf("%w: operation %d: %v", ErrMalformed, i, err)
		}

		op.UserID = sub.UserID
		op.BaseVersion = sub.BaseVersion
		if op.Timestamp.IsZero() {
			op.Timestamp = now
		}
		ops = append(ops, op)
	}

	entryOps := make([][]ot.Operation, len(concurrent))
	for i, e := range concurrent {
		entryOps[i] = e.Operations
	}

	transformed := ot.Rebase(ops, entryOps...)

	next, err := ot.ApplyAll(d.content, transformed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	entry := d.commit(next, transformed, sub.UserID, sub.ReplicaID, sub.ClientSeq, limit, now)

	return &ApplyResult{Entry: entry, Version: d.version}, nil
}

// commit installs new content as the next version and trims history.
func (d *Document) commit(content []rune, ops []ot.Operation, userID, replicaID string, seq uint64, limit int, now time.Time) HistoryEntry {
	d.content = content
	d.version++
	d.lastModified = now
	d.lastModifiedBy = userID

	if replicaID != "" && seq > 0 {
		d.replicaSeqs[replicaID] = seq
	}

	for i := range ops {
		ops[i].BaseVersion = d.version - 1
	}

	entry := HistoryEntry{
		Version:    d.version,
		Operations: ops,
		UserID:     userID,
		ReplicaID:  replicaID,
		ClientSeq:  seq,
		AppliedAt:  now,
	}
	d.history = append(d.history, entry)
	d.evict(limit)

	return entry
}

// evict folds the oldest entries into the base until the cap holds.
func (d *Document) evict(limit int) {
	for len(d.history) > limit {
		oldest := d.history[0]

		base, err := ot.ApplyAll(d.baseContent, oldest.Operations)
		if err != nil {
			// history always replays; fall back to the current state
			d.baseContent = append([]rune(nil), d.content...)
			d.baseVersion = d.version
			d.history = nil
			return
		}

		d.baseContent = base
		d.baseVersion = oldest.Version
		d.history = d.history[1:]
	}
}

// since returns entries newer than version.
func (d *Document) since(version int64) ([]HistoryEntry, error) {
	if version < d.baseVersion {
		return nil, fmt.Errorf("%w: base %d, oldest retained %d", ErrStaleVersion, version, d.baseVersion)
	}

	if version > d.version {
		return nil, fmt.Errorf("%w: version %d is ahead of %d", ErrMalformed, version, d.version)
	}

	return d.history[version-d.baseVersion:], nil
}

// contentAt replays history from the window base up to version.
func (d *Document) contentAt(version int64) ([]rune, error) {
	if version < d.baseVersion {
		return nil, fmt.Errorf("%w: version %d, oldest retained %d", ErrStaleVersion, version, d.baseVersion)
	}

	if version > d.version {
		return nil, fmt.Errorf("%w: version %d is ahead of %d", ErrMalformed, version, d.version)
	}

	content := d.baseContent
	for _, e := range d.history[:version-d.baseVersion] {
		next, err := ot.ApplyAll(content, e.Operations)
		if err != nil {
			return nil, fmt.Errorf("replay version %d: %w", e.Version, err)
		}
		content = next
	}

	return append([]rune(nil), content...), nil
}

func (d *Document) resolve(resolver *conflict.Resolver, req ResolveRequest, limit int, now time.Time) (*ResolveResult, error) {
	creq := conflict.Request{
		Type:        req.Type,
		Operations:  req.Operations,
		Current:     string(d.content),
		Contenders:  req.Contenders,
		LocalAuthor: req.UserID,
	}

	if req.Type == conflict.TypeConcurrentEdit {
		ancestor, err := d.contentAt(req.BaseVersion)
		switch {
		case err == nil:
			creq.Ancestor = string(ancestor)
			creq.Local = req.Content
			creq.Remote = string(d.content)
			creq.RemoteAuthor = d.lastModifiedBy
		case req.BaseVersion < d.baseVersion:
			// branched before the retained window; the client must resync
			creq.Type = conflict.TypeVersionMismatch
		default:
			return nil, err
		}
	}

	rec, err := resolver.Resolve(creq)
	if err != nil {
		d.record(rec)
		return &ResolveResult{Record: rec, Version: d.version}, err
	}

	var ops []ot.Operation
	if rec.ResolvedContent != creq.Current {
		ops = diffReplace(d.content, []rune(rec.ResolvedContent), req.UserID, now)
	}

	next := []rune(rec.ResolvedContent)
	entry := d.commit(next, ops, req.UserID, "", 0, limit, now)

	rec.Version = d.version
	d.record(rec)

	return &ResolveResult{Record: rec, Entry: entry, Version: d.version}, nil
}

func (d *Document) record(rec conflict.Record) {
	d.conflicts = append(d.conflicts, rec)
	if over := len(d.conflicts) - maxConflictRecords; over > 0 {
		d.conflicts = d.conflicts[over:]
	}
}

func (d *Document) snapshot(pending int) Snapshot {
	seqs := make(map[string]uint64, len(d.replicaSeqs))
	for k, v := range d.replicaSeqs {
		seqs[k] = v
	}

	return Snapshot{
		SessionID:      d.sessionID,
		Content:        string(d.content),
		Version:        d.version,
		LastModified:   d.lastModified,
		LastModifiedBy: d.lastModifiedBy,
		Pending:        pending,
		ReplicaSeqs:    seqs,
	}
}

// diffReplace expresses from -> to as one replace over the changed middle.
func diffReplace(from, to []rune, userID string, now time.Time) []ot.Operation {
	prefix := 0
	for prefix < len(from) && prefix < len(to) && from[prefix] == to[prefix] {
		prefix++
	}

	suffix := 0
	for suffix < len(from)-prefix && suffix < len(to)-prefix &&
		from[len(from)-1-suffix] == to[len(to)-1-suffix] {
		suffix++
	}

	op := ot.Replace(prefix, len(from)-prefix-suffix, string(to[prefix:len(to)-suffix]), userID)
	op.Timestamp = now

	return op.Primitives()
}
