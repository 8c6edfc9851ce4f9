// Package store holds the durable, shared, ordered backing collection for
// strokes. All backends key by a board identifier so several boards can share
// one backend, and all are safe for concurrent use by many sessions.
package store

import (
	"context"

	"collabboard/internal/board"
)

// Store is the single source of truth for one board. Append order is display
// order. A write that returns an error did not durably happen and the caller
// must not broadcast it.
type Store interface {
	// Append adds one stroke at the tail.
	Append(ctx context.Context, s board.Stroke) error
	// AppendMany adds strokes at the tail preserving input order. Appending
	// an empty slice is a no-op.
	AppendMany(ctx context.Context, strokes []board.Stroke) error
	// ReadAll returns the full board in append order.
	ReadAll(ctx context.Context) ([]board.Stroke, error)
	// Clear empties the board.
	Clear(ctx context.Context) error
	Close() error
}
