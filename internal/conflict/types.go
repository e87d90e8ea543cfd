package conflict

import (
	"errors"
	"time"

	"codeberg.org/algopatterns/cowrite/internal/ot"
)

// conflict kinds
const (
	TypeConcurrentEdit     = "concurrent_edit"
	TypeVersionMismatch    = "version_mismatch"
	TypePermissionConflict = "permission_conflict"
)

// resolution strategies recorded on a Record
const (
	StrategyThreeWayMerge      = "three_way_merge"
	StrategyServerWins         = "server_wins_resync"
	StrategyDenyLowerPrivilege = "deny_lower_privilege"
	StrategyFailClosed         = "fail_closed"
)

var (
	ErrConflictUnresolved = errors.New("conflict could not be resolved")
	ErrUnknownType        = errors.New("unknown conflict type")
)

// Contender is one side of a permission conflict.
type Contender struct {
	UserID     string
	Rank       int // higher outranks lower
	Operations []ot.Operation
}

// Request describes a conflict the transformer could not settle.
type Request struct {
	Type       string
	Operations []ot.Operation

	// concurrent_edit inputs
	Ancestor     string
	Local        string
	Remote       string
	LocalAuthor  string
	RemoteAuthor string

	// authoritative content for version_mismatch and permission_conflict
	Current string

	Contenders []Contender
}

// Record is the audit entry for one resolution attempt.
type Record struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Strategy        string         `json:"resolution_strategy"`
	Operations      []ot.Operation `json:"operations,omitempty"`
	ResolvedContent string         `json:"resolved_content"`
	Confidence      float64        `json:"confidence"`
	Resolved        bool           `json:"resolved"`
	DiscardPending  bool           `json:"discard_pending,omitempty"`
	Authors         []string       `json:"authors,omitempty"`
	Denied          []string       `json:"denied,omitempty"`
	Version         int64          `json:"version"`
	Timestamp       time.Time      `json:"timestamp"`
}
