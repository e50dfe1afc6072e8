// Package repository persists rooms. Every write goes through Update, which
// re-reads the room, applies a mutation and commits it with statusVersion
// advanced by exactly one, or commits nothing.
package repository

import (
	"context"
	"time"

	"github.com/okian/roomsync/internal/domain/model"
)

// MutateFunc edits a private copy of the room. Returning ErrNoChange (or an
// error wrapping it) commits nothing; any other error aborts the write.
type MutateFunc func(room *model.Room) error

// Store provides transactional access to rooms.
type Store interface {
	// Create stores a new room at statusVersion 1. Returns ErrExists when the
	// id is taken.
	Create(ctx context.Context, room *model.Room) error

	// Get returns a copy of the room or ErrNotFound.
	Get(ctx context.Context, id string) (*model.Room, error)

	// Update applies fn to a fresh copy read inside the write transaction.
	// changed is false when fn returned ErrNoChange; room is then the current
	// state. On success room carries the new statusVersion.
	Update(ctx context.Context, id string, fn MutateFunc) (room *model.Room, changed bool, err error)

	// Count returns the number of stored rooms.
	Count(ctx context.Context) (int, error)

	Close() error
}

// stamp bumps the version of a mutated room.
func stamp(room *model.Room, prevVersion int64, now time.Time) {
	room.StatusVersion = prevVersion + 1
	room.UpdatedAt = now
}

func sinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
