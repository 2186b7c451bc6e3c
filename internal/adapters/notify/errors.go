package notify

import "errors"

// Sentinel kinds for notification errors.
var (
	ErrNoRecipient = errors.New("recipient has no email address")
	ErrQueueFull   = errors.New("notification queue full or closed")
	ErrRender      = errors.New("render notification")
	ErrSend        = errors.New("send notification")
)
