package ot

// Transform rebases op so it can be applied after against.
// The result may be empty (op was absorbed) or, for a delete that
// straddles a concurrent insert, two deletes applied in sequence.
func Transform(op, against Operation) []Operation {
	out, _ := TransformPair([]Operation{op}, []Operation{against})
	return out
}

// TransformPair rebases two concurrent sequences over each other.
// Applying a then b' yields the same content as applying b then a'.
func TransformPair(a, b []Operation) (aPrime, bPrime []Operation) {
	return transformSeq(Normalize(a), Normalize(b))
}

// Rebase folds ops over each concurrent entry in order, the way the
// server catches a stale submission up to the current version.
func Rebase(ops []Operation, concurrent ...[]Operation) []Operation {
	out := Normalize(ops)

	for _, entry := range concurrent {
		if len(out) == 0 {
			break
		}
		out, _ = transformSeq(out, Normalize(entry))
	}

	return out
}

func transformSeq(a, b []Operation) ([]Operation, []Operation) {
	if len(a) == 0 || len(b) == 0 {
		return clone(a), clone(b)
	}

	if len(a) == 1 && len(b) == 1 {
		return transformPrimitive(a[0], b[0]), transformPrimitive(b[0], a[0])
	}

	if len(a) > 1 {
		head, b1 := transformSeq(a[:1], b)
		tail, b2 := transformSeq(a[1:], b1)
		return append(head, tail...), b2
	}

	a1, head := transformSeq(a, b[:1])
	a2, tail := transformSeq(a1, b[1:])

	return a2, append(head, tail...)
}

func transformPrimitive(op, against Operation) []Operation {
	switch {
	case op.Type == TypeInsert && against.Type == TypeInsert:
		return []Operation{insertInsert(op, against)}
	case op.Type == TypeInsert && against.Type == TypeDelete:
		return []Operation{insertDelete(op, against)}
	case op.Type == TypeDelete && against.Type == TypeInsert:
		return deleteInsert(op, against)
	case op.Type == TypeDelete && against.Type == TypeDelete:
		return deleteDelete(op, against)
	}

	return []Operation{op}
}

// insertsFirst decides which of two inserts at the same position lands first.
// Ordering by user then content keeps the choice identical on every replica.
func insertsFirst(a, b Operation) bool {
	if a.UserID != b.UserID {
		return a.UserID < b.UserID
	}
	return a.Content <= b.Content
}

func insertInsert(op, against Operation) Operation {
	if against.Position < op.Position ||
		(against.Position == op.Position && insertsFirst(against, op)) {
		op.Position += against.runeLen()
	}

	return op
}

func insertDelete(op, against Operation) Operation {
	switch {
	case op.Position <= against.Position:
	case op.Position >= against.end():
		op.Position -= against.Length
	default:
		// the insert point was deleted; keep the text at the start of the hole
		op.Position = against.Position
	}

	return op
}

func deleteInsert(op, against Operation) []Operation {
	n := against.runeLen()

	switch {
	case against.Position <= op.Position:
		op.Position += n
		return []Operation{op}
	case against.Position >= op.end():
		return []Operation{op}
	}

	// concurrent text landed inside the range; delete around it
	left := op
	left.Length = against.Position - op.Position

	right := op
	right.Position = op.Position + n
	right.Length = op.end() - against.Position

	return []Operation{left, right}
}

func deleteDelete(op, against Operation) []Operation {
	switch {
	case op.end() <= against.Position:
		return []Operation{op}
	case against.end() <= op.Position:
		op.Position -= against.Length
		return []Operation{op}
	}

	overlap := min(op.end(), against.end()) - max(op.Position, against.Position)
	op.Position = min(op.Position, against.Position)
	op.Length -= overlap

	if op.Length == 0 {
		return nil
	}

	return []Operation{op}
}

func clone(ops []Operation) []Operation {
	if len(ops) == 0 {
		return nil
	}

	out := make([]Operation, len(ops))
	copy(out, ops)

	return out
}
