// Package bus is the publish/subscribe channel that tells every node about
// board state changes. Delivery is at-least-once with order preserved per
// publisher only, so consumers must treat events as idempotent.
package bus

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"collabboard/internal/board"
)

type EventType string

const (
	// EventSync asks nodes holding a local cache to refresh from the store.
	EventSync EventType = "sync"
	// EventDraw announces one appended stroke.
	EventDraw EventType = "draw"
	// EventClearAll announces that the store was emptied.
	EventClearAll EventType = "clear-all"
	// EventClearUser announces that one user's strokes were removed; the
	// event carries the surviving board so receivers need no store read.
	EventClearUser EventType = "clear-user"
)

// Event is the tagged variant carried on the bus. ID gives duplicate
// deliveries a stable identity; Origin names the publishing node.
type Event struct {
	Type   EventType      `msgpack:"type"`
	ID     string         `msgpack:"id"`
	Origin string         `msgpack:"origin"`
	Stroke *board.Stroke  `msgpack:"stroke,omitempty"`
	UserID string         `msgpack:"userId,omitempty"`
	Board  []board.Stroke `msgpack:"board,omitempty"`
}

type Bus interface {
	// Publish delivers ev to every subscriber, including the publisher's
	// own node, at least once.
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns a channel of incoming events. The channel closes
	// when ctx is cancelled or the bus is closed.
	Subscribe(ctx context.Context) (<-chan Event, error)
	Close() error
}

func Sync(origin string) Event {
	return Event{Type: EventSync, ID: uuid.NewString(), Origin: origin}
}

func Draw(origin string, s board.Stroke) Event {
	return Event{Type: EventDraw, ID: uuid.NewString(), Origin: origin, Stroke: &s}
}

func ClearAll(origin string) Event {
	return Event{Type: EventClearAll, ID: uuid.NewString(), Origin: origin}
}

func ClearUser(origin, userID string, remainder []board.Stroke) Event {
	return Event{Type: EventClearUser, ID: uuid.NewString(), Origin: origin, UserID: userID, Board: remainder}
}

func encodeEvent(ev Event) ([]byte, error) {
	b, err := msgpack.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return b, nil
}

func decodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := msgpack.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
