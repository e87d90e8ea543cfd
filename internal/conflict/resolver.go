package conflict

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

// inputs larger than this are not merged
const maxMergeBytes = 4 << 20

// Resolver settles conflicts deterministically: the same request always
// yields the same content and confidence.
type Resolver struct {
	now func() time.Time
}

func NewResolver() *Resolver {
	return &Resolver{now: time.Now}
}

// Resolve dispatches on the conflict type. On ErrConflictUnresolved the
// returned record is still filled in (Resolved=false, content = current)
// so callers can log it and notify the authors.
func (r *Resolver) Resolve(req Request) (Record, error) {
	rec := Record{
		ID:         ulid.Make().String(),
		Type:       req.Type,
		Operations: req.Operations,
		Authors:    authors(req),
		Timestamp:  r.now(),
	}

	switch req.Type {
	case TypeConcurrentEdit:
		return r.concurrentEdit(req, rec)
	case TypeVersionMismatch:
		rec.Strategy = StrategyServerWins
		rec.ResolvedContent = req.Current
		rec.Confidence = 1
		rec.Resolved = true
		rec.DiscardPending = true
		return rec, nil
	case TypePermissionConflict:
		return r.permissionConflict(req, rec)
	}

	return r.failClosed(req, rec, fmt.Errorf("%w: %q", ErrUnknownType, req.Type))
}

func (r *Resolver) concurrentEdit(req Request, rec Record) (Record, error) {
	for _, s := range []string{req.Ancestor, req.Local, req.Remote} {
		if len(s) > maxMergeBytes {
			return r.failClosed(req, rec, fmt.Errorf("%w: input exceeds %d bytes", ErrConflictUnresolved, maxMergeBytes))
		}
		if !isText(s) {
			return r.failClosed(req, rec, fmt.Errorf("%w: content is not valid text", ErrConflictUnresolved))
		}
	}

	merged := Merge3(req.Ancestor, req.Local, req.Remote, req.LocalAuthor, req.RemoteAuthor)

	rec.Strategy = StrategyThreeWayMerge
	rec.ResolvedContent = merged.Content
	rec.Confidence = merged.Confidence()
	rec.Resolved = true

	return rec, nil
}

func (r *Resolver) permissionConflict(req Request, rec Record) (Record, error) {
	if len(req.Contenders) == 0 {
		return r.failClosed(req, rec, fmt.Errorf("%w: no contenders", ErrConflictUnresolved))
	}

	top := req.Contenders[0].Rank
	for _, c := range req.Contenders[1:] {
		top = max(top, c.Rank)
	}

	for _, c := range req.Contenders {
		if c.Rank < top {
			rec.Denied = append(rec.Denied, c.UserID)
		}
	}
	sort.Strings(rec.Denied)

	rec.Strategy = StrategyDenyLowerPrivilege
	rec.ResolvedContent = req.Current
	rec.Confidence = 1
	rec.Resolved = true

	return rec, nil
}

func (r *Resolver) failClosed(req Request, rec Record, err error) (Record, error) {
	rec.Strategy = StrategyFailClosed
	rec.ResolvedContent = req.Current
	rec.Confidence = 0
	rec.Resolved = false

	return rec, err
}

func isText(s string) bool {
	return utf8.ValidString(s) && !strings.ContainsRune(s, 0)
}

func authors(req Request) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}

	add(req.LocalAuthor)
	add(req.RemoteAuthor)
	for _, c := range req.Contenders {
		add(c.UserID)
	}
	for _, op := range req.Operations {
		add(op.UserID)
	}

	sort.Strings(out)
	return out
}
