package app

import "errors"

var (
	ErrTextRequired = errors.New("text is required")
	ErrTextTooLong  = errors.New("text too long")
	ErrTitleTooLong = errors.New("title too long")
	ErrInvalidVoice = errors.New("unsupported voice")
	ErrNotFound     = errors.New("audiobook not found")
	ErrNotReady     = errors.New("audiobook is not ready")
)
