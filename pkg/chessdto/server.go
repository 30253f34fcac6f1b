package chessdto

type Connected struct {
	ConnectionID string `json:"connectionId"`
}

type Queued struct {
	UserID      string `json:"userId"`
	TimeControl string `json:"timeControl"`
	Position    int    `json:"position"`
}

type GameStart struct {
	RoomID           string `json:"roomId"`
	WhitePlayer      string `json:"whitePlayer"`
	WhitePlayerName  string `json:"whitePlayerName"`
	BlackPlayer      string `json:"blackPlayer"`
	BlackPlayerName  string `json:"blackPlayerName"`
	CurrentPosition  string `json:"currentPosition"`
	Turn             string `json:"turn"`
	TimeControl      string `json:"timeControl"`
	WhiteRemainingMs int64  `json:"whiteRemainingMs"`
	BlackRemainingMs int64  `json:"blackRemainingMs"`
}

type JoinedRoom struct {
	RoomID string `json:"roomId"`
	Side   string `json:"side"`
}

type MoveMade struct {
	RoomID           string   `json:"roomId"`
	CurrentPosition  string   `json:"currentPosition"`
	Turn             string   `json:"turn"`
	WhiteRemainingMs int64    `json:"whiteRemainingMs"`
	BlackRemainingMs int64    `json:"blackRemainingMs"`
	Move             MoveSpec `json:"move"`
	SAN              string   `json:"san,omitempty"`
}

type Rejoined struct {
	RoomID           string   `json:"roomId"`
	CurrentPosition  string   `json:"currentPosition"`
	Turn             string   `json:"turn"`
	WhitePlayer      string   `json:"whitePlayer"`
	BlackPlayer      string   `json:"blackPlayer"`
	WhiteRemainingMs int64    `json:"whiteRemainingMs"`
	BlackRemainingMs int64    `json:"blackRemainingMs"`
	TimeControl      string   `json:"timeControl"`
	Moves            []string `json:"moves"`
}

type GameOver struct {
	RoomID           string `json:"roomId"`
	Winner           string `json:"winner"`
	Reason           string `json:"reason"`
	WhiteRating      int    `json:"whiteRating"`
	BlackRating      int    `json:"blackRating"`
	WhiteRatingDelta int    `json:"whiteRatingDelta"`
	BlackRatingDelta int    `json:"blackRatingDelta"`
}

type InvalidMove struct {
	RoomID string   `json:"roomId"`
	Move   MoveSpec `json:"move"`
	Reason string   `json:"reason,omitempty"`
}

type Cancelled struct {
	RoomID string `json:"roomId"`
}
