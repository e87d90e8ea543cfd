package sessions

import "errors"

var (
	ErrCapacityExceeded = errors.New("session is at capacity")
	ErrNotInSession     = errors.New("user is not in this session")
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidJoin      = errors.New("session id and user id are required")
)
