package ot

import "fmt"

// Apply returns a new buffer with op applied. The input is not modified.
func Apply(content []rune, op Operation) ([]rune, error) {
	switch op.Type {
	case TypeInsert:
		if op.Position > len(content) {
			return nil, fmt.Errorf("%w: insert at %d, length %d", ErrOutOfBounds, op.Position, len(content))
		}

		ins := []rune(op.Content)
		out := make([]rune, 0, len(content)+len(ins))
		out = append(out, content[:op.Position]...)
		out = append(out, ins...)
		out = append(out, content[op.Position:]...)

		return out, nil

	case TypeDelete:
		if op.end() > len(content) {
			return nil, fmt.Errorf("%w: delete [%d,%d), length %d", ErrOutOfBounds, op.Position, op.end(), len(content))
		}

		out := make([]rune, 0, len(content)-op.Length)
		out = append(out, content[:op.Position]...)
		out = append(out, content[op.end():]...)

		return out, nil

	case TypeReplace:
		return ApplyAll(content, op.Primitives())
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, op.Type)
}

// ApplyAll applies ops in sequence. On error the original buffer is untouched.
func ApplyAll(content []rune, ops []Operation) ([]rune, error) {
	cur := content

	for i, op := range ops {
		next, err := Apply(cur, op)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		cur = next
	}

	if len(ops) == 0 {
		out := make([]rune, len(content))
		copy(out, content)
		return out, nil
	}

	return cur, nil
}

// ApplyString is a convenience wrapper over ApplyAll for string content.
func ApplyString(content string, ops ...Operation) (string, error) {
	out, err := ApplyAll([]rune(content), ops)
	if err != nil {
		return "", err
	}

	return string(out), nil
}

// Clamp pulls an operation back inside a buffer of the given length.
// Used when local edits are rebased onto a fresh snapshot.
func Clamp(op Operation, length int) Operation {
	if op.Position > length {
		op.Position = length
	}

	if op.Type != TypeInsert && op.end() > length {
		op.Length = length - op.Position
	}

	return op
}
