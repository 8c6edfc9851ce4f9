package node

import (
	"encoding/json"

	"collabboard/internal/board"
)

// Inbound command and outbound push message shapes for the websocket
// protocol. Both directions are typed JSON keyed by a "type" field.

const (
	cmdRegister  = "register"
	cmdDraw      = "draw"
	cmdClearAll  = "clear-all"
	cmdClearMine = "clear-mine"
)

const (
	msgUserInfo   = "user-info"
	msgInitBoard  = "init-board"
	msgDraw       = "draw"
	msgClearAll   = "clear-all"
	msgResetBoard = "reset-board"
)

type clientCommand struct {
	Type string `json:"type"`
	// UserID is the optional client-supplied identity on register.
	UserID string `json:"userId,omitempty"`
	// Payload is the opaque stroke geometry on draw.
	Payload json.RawMessage `json:"payload,omitempty"`
}

type serverMessage struct {
	Type   string        `json:"type"`
	UserID string        `json:"userId,omitempty"`
	Stroke *board.Stroke `json:"stroke,omitempty"`
	// Strokes stays nil for message types that carry no board; init-board
	// and reset-board set it to a non-nil slice so clients always see an
	// array, empty boards included.
	Strokes []board.Stroke `json:"strokes"`
}
