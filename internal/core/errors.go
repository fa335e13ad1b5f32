package core

import "errors"

var (
	ErrNegativeHeight = errors.New("height must not be negative")
	ErrAuditFailed    = errors.New("audit failed")
	ErrInvalidConfig  = errors.New("invalid configuration")
)
