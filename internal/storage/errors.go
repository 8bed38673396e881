package storage

import "errors"

// Common storage errors
var (
	ErrNotFound    = errors.New("not found")
	ErrRunFinished = errors.New("run already finished")
)
