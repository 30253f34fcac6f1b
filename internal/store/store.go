// Package store persists game records and player ratings.
//
// Three implementations share one contract: Memory (tests and single-node
// development), Redis (live state with WATCH-guarded settlement) and Postgres
// (durable tables with transactional settlement).
package store

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

var (
	ErrGameNotFound    = errors.New("game not found")
	ErrRoomExists      = errors.New("room already exists")
	ErrUserNotFound    = errors.New("user not found")
	ErrAlreadyFinished = errors.New("game already finished")
)

// Record lifecycle values stored in GameRecord.Status.
const (
	StatusWaiting  = "waiting"
	StatusOngoing  = "ongoing"
	StatusFinished = "finished"
)

// Invitation types.
const (
	InviteMatchmaking = "matchmaking"
	InviteDirect      = "invite"
)

// MoveEntry is one accepted move in the game log.
type MoveEntry struct {
	Move      string    `json:"move"`
	SAN       string    `json:"san,omitempty"`
	Side      string    `json:"side"`
	Timestamp time.Time `json:"timestamp"`
}

// GameRecord is the durable per-room document.
type GameRecord struct {
	RoomID         string `json:"room_id"`
	WhitePlayerID  string `json:"white_player_id"`
	BlackPlayerID  string `json:"black_player_id,omitempty"`
	WinnerID       string `json:"winner_id,omitempty"`
	Winner         string `json:"winner,omitempty"` // white | black | draw
	Reason         string `json:"reason,omitempty"`
	Status         string `json:"status"`
	IsOngoing      bool   `json:"is_ongoing"`
	InvitationType string `json:"invitation_type"`

	CurrentPosition string      `json:"current_position"`
	FinalPosition   string      `json:"final_position,omitempty"`
	Turn            string      `json:"turn"`
	Moves           []MoveEntry `json:"moves"`
	PGN             string      `json:"pgn,omitempty"`

	TimeControl       string `json:"time_control"`
	WhiteRemainingMs  int64  `json:"white_remaining_ms"`
	BlackRemainingMs  int64  `json:"black_remaining_ms"`
	IncrementMs       int64  `json:"increment_ms"`
	LastMoveTimestamp int64  `json:"last_move_timestamp"` // unix ms

	WhiteRatingAtStart int `json:"white_rating_at_start"`
	BlackRatingAtStart int `json:"black_rating_at_start"`
	WhiteRatingDelta   int `json:"white_rating_delta"`
	BlackRatingDelta   int `json:"black_rating_delta"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (g *GameRecord) Clone() *GameRecord {
	if g == nil {
		return nil
	}
	c := *g
	c.Moves = append([]MoveEntry(nil), g.Moves...)
	return &c
}

// User is the rating-bearing player entity. Credentials live elsewhere.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Rating    int       `json:"rating"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Settlement is the single write that finishes a game: the final record plus
// both players' new ratings.
type Settlement struct {
	Game        *GameRecord
	WhiteRating int
	BlackRating int
}

// GameStore is the per-room document contract.
type GameStore interface {
	CreateGame(ctx context.Context, g *GameRecord) error
	FindGame(ctx context.Context, roomID string) (*GameRecord, error)
	UpdateGame(ctx context.Context, g *GameRecord) error
	DeleteGame(ctx context.Context, roomID string) error
	GamesByUser(ctx context.Context, userID string, finishedOnly bool) ([]*GameRecord, error)
}

// UserStore is the rating contract.
type UserStore interface {
	FindUser(ctx context.Context, userID string) (*User, error)
	SaveUser(ctx context.Context, u *User) error
}

// Store is everything the session engine persists through.
type Store interface {
	GameStore
	UserStore
	// Settle writes the finished record and both ratings atomically. It
	// returns ErrAlreadyFinished when the stored record is no longer ongoing.
	Settle(ctx context.Context, s Settlement) error
	Close() error
}

// PGNResult maps a winner token to the PGN result string.
func PGNResult(winner string) string {
	switch strings.ToLower(strings.TrimSpace(winner)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	case "draw":
		return "1/2-1/2"
	default:
		return "*"
	}
}

func validSettlement(s Settlement) error {
	if s.Game == nil || strings.TrimSpace(s.Game.RoomID) == "" {
		return errors.New("settlement without game")
	}
	if s.Game.IsOngoing || s.Game.Status != StatusFinished {
		return errors.New("settlement record must be finished")
	}
	return nil
}

func sortNewestFirst(list []*GameRecord) {
	slices.SortFunc(list, func(a, b *GameRecord) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.RoomID, a.RoomID)
	})
}
