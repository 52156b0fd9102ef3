package repository

import "errors"

// Common repository errors
var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrStageConflict = errors.New("contact stage changed concurrently")
)
