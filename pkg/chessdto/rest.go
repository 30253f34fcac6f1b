package chessdto

import "time"

type CreateGameRequest struct {
	UserID      string `json:"userId"`
	UserName    string `json:"userName,omitempty"`
	TimeControl string `json:"timeControl"`
}

type CreateGameResponse struct {
	RoomID      string `json:"roomId"`
	TimeControl string `json:"timeControl"`
	URL         string `json:"url"`
}

type JoinableResponse struct {
	RoomID   string `json:"roomId"`
	Joinable bool   `json:"joinable"`
	Status   string `json:"status"`
}

type MoveLogEntry struct {
	Move      string    `json:"move"`
	SAN       string    `json:"san,omitempty"`
	Side      string    `json:"side"`
	Timestamp time.Time `json:"timestamp"`
}

// GameView is the REST projection of a persisted game record.
type GameView struct {
	RoomID             string         `json:"roomId"`
	WhitePlayerID      string         `json:"whitePlayerId"`
	BlackPlayerID      string         `json:"blackPlayerId,omitempty"`
	WinnerID           string         `json:"winnerId,omitempty"`
	Winner             string         `json:"winner,omitempty"`
	Reason             string         `json:"reason,omitempty"`
	Status             string         `json:"status"`
	IsOngoing          bool           `json:"isOngoing"`
	InvitationType     string         `json:"invitationType"`
	CurrentPosition    string         `json:"currentPosition"`
	FinalPosition      string         `json:"finalPosition,omitempty"`
	Turn               string         `json:"turn"`
	TimeControl        string         `json:"timeControl"`
	WhiteRemainingMs   int64          `json:"whiteRemainingMs"`
	BlackRemainingMs   int64          `json:"blackRemainingMs"`
	IncrementMs        int64          `json:"incrementMs"`
	LastMoveTimestamp  int64          `json:"lastMoveTimestamp"`
	WhiteRatingAtStart int            `json:"whiteRatingAtStart"`
	BlackRatingAtStart int            `json:"blackRatingAtStart"`
	WhiteRatingDelta   int            `json:"whiteRatingDelta"`
	BlackRatingDelta   int            `json:"blackRatingDelta"`
	Moves              []MoveLogEntry `json:"moves"`
	PGN                string         `json:"pgn,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

type GamesResponse struct {
	UserID string     `json:"userId"`
	Games  []GameView `json:"games"`
}

type HealthResponse struct {
	Status     string `json:"status"`
	Rooms      int    `json:"rooms"`
	QueueDepth int    `json:"queueDepth"`
	Store      string `json:"store"`
}
