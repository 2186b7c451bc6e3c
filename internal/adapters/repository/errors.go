package repository

import "errors"

// Sentinel kinds for store errors. Backends wrap their driver errors with these.
var (
	ErrNotFound      = errors.New("document not found")
	ErrConflict      = errors.New("document version conflict")
	ErrAlreadyExists = errors.New("document already exists")
	ErrInvalidQuery  = errors.New("invalid feedback query")
)
