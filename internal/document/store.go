package document

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/algopatterns/cowrite/internal/conflict"
)

// Store owns every live document. Each document has one worker goroutine
// that runs requests in arrival order; that goroutine is the only place a
// document's content or version changes.
type Store struct {
	mu    sync.Mutex
	slots []*worker
	index map[string]int
	free  []int

	historyLimit int
	resolver     *conflict.Resolver
	onCommit     func(sessionID string, entry HistoryEntry)
	now          func() time.Time
}

type worker struct {
	doc      *Document
	requests chan func(*Document)
	done     chan struct{}
	pending  atomic.Int64

	mu     sync.RWMutex
	closed bool
}

func NewStore(resolver *conflict.Resolver, historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}

	return &Store{
		index:        make(map[string]int),
		historyLimit: historyLimit,
		resolver:     resolver,
		now:          time.Now,
	}
}

// OnCommit registers a callback that runs on the document's worker after
// every new version, in version order. It must not block and must be set
// before any document is opened.
func (s *Store) OnCommit(callback func(sessionID string, entry HistoryEntry)) {
	s.onCommit = callback
}

// Open starts a document if it is not live yet. The seed is ignored for
// documents that already exist. Reports whether it created one.
func (s *Store) Open(sessionID string, seed Seed) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[sessionID]; ok {
		return false
	}

	w := &worker{
		doc:      newDocument(sessionID, seed),
		requests: make(chan func(*Document), queueSize),
		done:     make(chan struct{}),
	}
	go w.run()

	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		s.slots[idx] = w
		s.index[sessionID] = idx
	} else {
		s.slots = append(s.slots, w)
		s.index[sessionID] = len(s.slots) - 1
	}

	return true
}

// Has reports whether a document is live.
func (s *Store) Has(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.index[sessionID]
	return ok
}

// Apply transforms the submission against everything applied since its
// base version and applies it as the next version.
func (s *Store) Apply(ctx context.Context, sessionID string, sub Submission) (*ApplyResult, error) {
	var (
		result *ApplyResult
		err    error
	)

	runErr := s.run(ctx, sessionID, func(d *Document) {
		result, err = d.apply(sub, s.historyLimit, s.now())
		if err == nil && !result.Duplicate {
			s.committed(sessionID, result.Entry)
		}
	})
	if runErr != nil {
		return nil, runErr
	}

	return result, err
}

// Snapshot returns the current content and version.
func (s *Store) Snapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	var snap Snapshot

	w, err := s.worker(sessionID)
	if err != nil {
		return snap, err
	}

	err = s.run(ctx, sessionID, func(d *Document) {
		snap = d.snapshot(int(w.pending.Load()) - 1)
	})
	if err != nil {
		return Snapshot{}, err
	}

	return snap, nil
}

// HistorySince returns the entries applied after version.
func (s *Store) HistorySince(ctx context.Context, sessionID string, version int64) ([]HistoryEntry, error) {
	var (
		entries []HistoryEntry
		err     error
	)

	runErr := s.run(ctx, sessionID, func(d *Document) {
		var found []HistoryEntry
		found, err = d.since(version)
		entries = append([]HistoryEntry(nil), found...)
	})
	if runErr != nil {
		return nil, runErr
	}

	return entries, err
}

// ContentAt reconstructs the content at a retained version.
func (s *Store) ContentAt(ctx context.Context, sessionID string, version int64) (string, error) {
	var (
		content []rune
		err     error
	)

	runErr := s.run(ctx, sessionID, func(d *Document) {
		content, err = d.contentAt(version)
	})
	if runErr != nil {
		return "", runErr
	}

	return string(content), err
}

// Resolve runs the conflict resolver at the document's serialization point.
// A resolution appends a conflict record and bumps the version; a failed
// one appends the record and leaves content and version alone.
func (s *Store) Resolve(ctx context.Context, sessionID string, req ResolveRequest) (*ResolveResult, error) {
	var (
		result *ResolveResult
		err    error
	)

	runErr := s.run(ctx, sessionID, func(d *Document) {
		result, err = d.resolve(s.resolver, req, s.historyLimit, s.now())
		if err == nil {
			s.committed(sessionID, result.Entry)
		}
	})
	if runErr != nil {
		return nil, runErr
	}

	return result, err
}

// Sync returns a snapshot and, when since is retained, the entries applied
// after it, both taken at the same version. retained is false when the
// caller must fall back to the snapshot.
func (s *Store) Sync(ctx context.Context, sessionID string, since int64) (Snapshot, []HistoryEntry, bool, error) {
	w, err := s.worker(sessionID)
	if err != nil {
		return Snapshot{}, nil, false, err
	}

	type view struct {
		snap     Snapshot
		entries  []HistoryEntry
		retained bool
	}
	var v view

	err = s.run(ctx, sessionID, func(d *Document) {
		v.snap = d.snapshot(int(w.pending.Load()) - 1)

		found, sinceErr := d.since(since)
		if sinceErr == nil {
			v.entries = append([]HistoryEntry{}, found...)
			v.retained = true
		}
	})
	if err != nil {
		// the task may still be filling v
		return Snapshot{}, nil, false, err
	}

	return v.snap, v.entries, v.retained, nil
}

// Conflicts returns the document's recent conflict records, oldest first.
func (s *Store) Conflicts(ctx context.Context, sessionID string) ([]conflict.Record, error) {
	var out []conflict.Record

	err := s.run(ctx, sessionID, func(d *Document) {
		out = append(out, d.conflicts...)
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// Close drains the document's queue, stops its worker and returns the
// final snapshot.
func (s *Store) Close(sessionID string) (Snapshot, error) {
	s.mu.Lock()
	idx, ok := s.index[sessionID]
	if !ok {
		s.mu.Unlock()
		return Snapshot{}, ErrDocumentNotFound
	}

	w := s.slots[idx]
	s.slots[idx] = nil
	delete(s.index, sessionID)
	s.free = append(s.free, idx)
	s.mu.Unlock()

	w.mu.Lock()
	w.closed = true
	close(w.requests)
	w.mu.Unlock()

	<-w.done

	return w.doc.snapshot(0), nil
}

// CloseAll stops every worker. Used on shutdown.
func (s *Store) CloseAll() map[string]Snapshot {
	s.mu.Lock()
	ids := make([]string, 0, len(s.index))
	for id := range s.index {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	out := make(map[string]Snapshot, len(ids))
	for _, id := range ids {
		if snap, err := s.Close(id); err == nil {
			out[id] = snap
		}
	}

	return out
}

// Count returns the number of live documents.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

func (s *Store) committed(sessionID string, entry HistoryEntry) {
	if s.onCommit != nil {
		s.onCommit(sessionID, entry)
	}
}

func (s *Store) worker(sessionID string) (*worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[sessionID]
	if !ok {
		return nil, ErrDocumentNotFound
	}

	return s.slots[idx], nil
}

// run queues fn on the document's worker and waits for it to finish.
func (s *Store) run(ctx context.Context, sessionID string, fn func(*Document)) error {
	w, err := s.worker(sessionID)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	task := func(d *Document) {
		defer close(done)
		fn(d)
	}

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrDocumentClosed
	}

	w.pending.Add(1)
	select {
	case w.requests <- task:
	case <-ctx.Done():
		w.pending.Add(-1)
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// the task still runs; its result is dropped
		return ctx.Err()
	}
}

func (w *worker) run() {
	defer close(w.done)

	for task := range w.requests {
		task(w.doc)
		w.pending.Add(-1)
	}
}
