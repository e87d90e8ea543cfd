package ot

import (
	"fmt"
	"unicode/utf8"
)

// Validate checks the shape of an operation without looking at a document.
func (op Operation) Validate() error {
	if op.Position < 0 || op.Length < 0 {
		return ErrNegative
	}

	switch op.Type {
	case TypeInsert:
		if op.Content == "" {
			return ErrEmptyInsert
		}
	case TypeDelete:
		if op.Length == 0 {
			return ErrEmptyDelete
		}
	case TypeReplace:
		if op.Length == 0 && op.Content == "" {
			return fmt.Errorf("replace: %w", ErrEmptyDelete)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, op.Type)
	}

	if utf8.RuneCountInString(op.Content) > MaxContentLength {
		return ErrContentLimit
	}

	return nil
}

// runeLen is the number of code points the operation inserts.
func (op Operation) runeLen() int {
	return utf8.RuneCountInString(op.Content)
}

// end is the exclusive end of the range a delete covers.
func (op Operation) end() int {
	return op.Position + op.Length
}

// IsNoop reports whether applying the operation changes nothing.
func (op Operation) IsNoop() bool {
	switch op.Type {
	case TypeInsert:
		return op.Content == ""
	case TypeDelete:
		return op.Length == 0
	case TypeReplace:
		return op.Length == 0 && op.Content == ""
	}

	return true
}

// Primitives splits an operation into insert and delete components.
// A replace becomes a delete followed by an insert at the same position.
func (op Operation) Primitives() []Operation {
	if op.Type != TypeReplace {
		if op.IsNoop() {
			return nil
		}
		return []Operation{op}
	}

	out := make([]Operation, 0, 2)

	if op.Length > 0 {
		del := op
		del.Type = TypeDelete
		del.Content = ""
		out = append(out, del)
	}

	if op.Content != "" {
		ins := op
		ins.Type = TypeInsert
		ins.Length = 0
		out = append(out, ins)
	}

	return out
}

// Normalize flattens a batch into primitive operations, in order.
func Normalize(ops []Operation) []Operation {
	out := make([]Operation, 0, len(ops))

	for _, op := range ops {
		out = append(out, op.Primitives()...)
	}

	return out
}

func (op Operation) String() string {
	switch op.Type {
	case TypeInsert:
		return fmt.Sprintf("insert(%d, %q)", op.Position, op.Content)
	case TypeDelete:
		return fmt.Sprintf("delete(%d, %d)", op.Position, op.Length)
	default:
		return fmt.Sprintf("%s(%d, %d, %q)", op.Type, op.Position, op.Length, op.Content)
	}
}
