package document

import "errors"

var (
	ErrStaleVersion     = errors.New("base version is older than retained history")
	ErrMalformed        = errors.New("malformed operation")
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentClosed   = errors.New("document closed")
)
