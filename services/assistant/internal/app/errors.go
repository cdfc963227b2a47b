package app

import "errors"

var (
	ErrNoMessages      = errors.New("at least one message is required")
	ErrTooManyMessages = errors.New("too many messages")
	ErrMessageTooLong  = errors.New("message too long")
	ErrEmptyMessage    = errors.New("message content is required")
	ErrInvalidRole     = errors.New("role must be user or assistant")
	ErrLastNotUser     = errors.New("last message must be from the user")
)
