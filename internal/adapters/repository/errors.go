package repository

import "errors"

// Sentinel kinds for room store errors.
var (
	ErrNotFound = errors.New("room not found")
	ErrExists   = errors.New("room already exists")
	ErrConflict = errors.New("room changed concurrently")
	ErrNoChange = errors.New("no change")
	ErrClosed   = errors.New("store closed")
)
