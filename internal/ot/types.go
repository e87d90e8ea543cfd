package ot

import (
	"errors"
	"time"
)

// operation kinds
const (
	TypeInsert  = "insert"
	TypeDelete  = "delete"
	TypeReplace = "replace"
)

var (
	ErrUnknownType  = errors.New("unknown operation type")
	ErrNegative     = errors.New("position and length must be non-negative")
	ErrEmptyInsert  = errors.New("insert requires content")
	ErrEmptyDelete  = errors.New("delete requires a positive length")
	ErrOutOfBounds  = errors.New("operation is out of document bounds")
	ErrContentLimit = errors.New("operation content exceeds limit")
)

// MaxContentLength caps the runes a single insert or replace may carry.
const MaxContentLength = 100000

// Operation is a single edit against a document at BaseVersion.
// Position and Length count unicode code points, not bytes.
type Operation struct {
	Type        string    `json:"type" cbor:"1,keyasint"`
	Position    int       `json:"position" cbor:"2,keyasint"`
	Content     string    `json:"content,omitempty" cbor:"3,keyasint,omitempty"`
	Length      int       `json:"length,omitempty" cbor:"4,keyasint,omitempty"`
	BaseVersion int64     `json:"base_version" cbor:"5,keyasint"`
	UserID      string    `json:"user_id,omitempty" cbor:"6,keyasint,omitempty"`
	Timestamp   time.Time `json:"timestamp" cbor:"7,keyasint"`
}

// Insert builds an insert operation.
func Insert(pos int, content, userID string) Operation {
	return Operation{Type: TypeInsert, Position: pos, Content: content, UserID: userID}
}

// Delete builds a delete operation.
func Delete(pos, length int, userID string) Operation {
	return Operation{Type: TypeDelete, Position: pos, Length: length, UserID: userID}
}

// Replace builds a replace operation.
func Replace(pos, length int, content, userID string) Operation {
	return Operation{Type: TypeReplace, Position: pos, Length: length, Content: content, UserID: userID}
}
