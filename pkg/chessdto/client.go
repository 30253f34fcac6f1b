package chessdto

// MoveSpec is a from/to pair with optional promotion piece.
type MoveSpec struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

type JoinPayload struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName,omitempty"`
	TimeControl string `json:"timeControl"`
}

type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

type MovePayload struct {
	UserID string   `json:"userId"`
	RoomID string   `json:"roomId"`
	Move   MoveSpec `json:"move"`
}

// RoomPayload serves rejoin, cancelRoom and resign.
type RoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}
