package board

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Stroke is one immutable unit of drawing data attributed to a user. The
// payload is the client's drawing geometry and is never interpreted here;
// it is carried through the store and the bus as-is.
type Stroke struct {
	ID      string          `msgpack:"id" json:"id"`
	UserID  string          `msgpack:"userId" json:"userId"`
	Payload json.RawMessage `msgpack:"payload" json:"payload"`
}

// Filter returns the strokes not authored by userID, preserving order.
// The input slice is not modified.
func Filter(strokes []Stroke, userID string) []Stroke {
	remainder := make([]Stroke, 0, len(strokes))
	for _, s := range strokes {
		if s.UserID == userID {
			continue
		}
		remainder = append(remainder, s)
	}
	return remainder
}

// Encode serializes a stroke for the store or the bus.
func Encode(s Stroke) ([]byte, error) {
	b, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode stroke: %w", err)
	}
	return b, nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (Stroke, error) {
	var s Stroke
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return Stroke{}, fmt.Errorf("decode stroke: %w", err)
	}
	return s, nil
}
