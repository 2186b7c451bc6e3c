package service

import "errors"

// Sentinel kinds for service errors. Transports map these to status codes.
var (
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("not found")
	ErrUnexpected = errors.New("unexpected failure")
	ErrConflict   = errors.New("concurrent update conflict")
	ErrDuplicate  = errors.New("duplicate submission")
	ErrNotStarted = errors.New("service not started")
)
