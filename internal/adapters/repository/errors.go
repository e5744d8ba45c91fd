package repository

import "errors"

// Sentinel errors for the repository.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidLimit = errors.New("invalid limit")
	ErrInvalidUser  = errors.New("invalid user")
)
