package chessdto

import "encoding/json"

// Client to server events.
const (
	EventJoin       = "join"
	EventJoinRoom   = "joinRoom"
	EventMove       = "move"
	EventRejoin     = "rejoin"
	EventCancelRoom = "cancelRoom"
	EventResign     = "resign"
	EventLeave      = "leave"
)

// Server to client events. EventMove is shared.
const (
	EventConnected   = "connected"
	EventQueued      = "queued"
	EventGameStart   = "gameStart"
	EventJoinedRoom  = "joinedRoom"
	EventRejoined    = "rejoined"
	EventGameOver    = "gameOver"
	EventInvalidMove = "invalidMove"
	EventCancelled   = "cancelled"
	EventError       = "error"
)

// Inbound is a decoded client frame; Payload is decoded per event.
type Inbound struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Event is an outbound frame.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"payload"`
}

func NewEvent(name string, payload any) Event { return Event{Name: name, Payload: payload} }

// ErrorEvent wraps a DomainError into an error frame.
func ErrorEvent(e DomainError) Event { return Event{Name: EventError, Payload: e} }
