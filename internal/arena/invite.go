package arena

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/internal/store"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
	"go.uber.org/zap"
)

// ErrGameNotFound is returned by the lookup helpers for unknown rooms.
var ErrGameNotFound = errors.New("game not found")

// CreateInvite opens a waiting room with the caller as white.
func (a *Arena) CreateInvite(ctx context.Context, req chessdto.CreateGameRequest) (*chessdto.CreateGameResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, errBadPayload
	}
	control, err := a.presets.Lookup(req.TimeControl)
	if err != nil {
		return nil, &timeControlError{name: req.TimeControl}
	}
	roomID := a.newID()
	if _, err := a.registry.Create(ctx, session.CreateParams{
		RoomID:         roomID,
		White:          session.Player{UserID: userID, Name: req.UserName},
		Control:        control,
		InvitationType: store.InviteDirect,
	}); err != nil {
		return nil, err
	}
	data := map[string]any{"RoomID": url.PathEscape(roomID), "TimeControl": url.QueryEscape(control.Name)}
	link := a.msgs.Text("invite.url", data, "chess://room/"+url.PathEscape(roomID)+"?timeControl="+url.QueryEscape(control.Name))
	obslog.L().Info("invite_create", zap.String("room_id", roomID), zap.String("user_id", userID), zap.String("time_control", control.Name))
	return &chessdto.CreateGameResponse{RoomID: roomID, TimeControl: control.Name, URL: link}, nil
}

// Game returns the persisted record for roomID.
func (a *Arena) Game(ctx context.Context, roomID string) (*chessdto.GameView, error) {
	g, err := a.store.FindGame(ctx, roomID)
	if errors.Is(err, store.ErrGameNotFound) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	v := View(g)
	return &v, nil
}

// GamesByUser lists a user's games, newest first.
func (a *Arena) GamesByUser(ctx context.Context, userID string, finishedOnly bool) (*chessdto.GamesResponse, error) {
	list, err := a.store.GamesByUser(ctx, userID, finishedOnly)
	if err != nil {
		return nil, err
	}
	out := &chessdto.GamesResponse{UserID: userID, Games: make([]chessdto.GameView, 0, len(list))}
	for _, g := range list {
		out.Games = append(out.Games, View(g))
	}
	return out, nil
}

// Joinable reports whether a live room still waits for its black player.
func (a *Arena) Joinable(ctx context.Context, roomID string) (*chessdto.JoinableResponse, error) {
	if s, ok := a.registry.GetByRoom(roomID); ok {
		rec := s.Snapshot().Record
		if rec != nil {
			return &chessdto.JoinableResponse{
				RoomID:   roomID,
				Joinable: rec.Status == store.StatusWaiting && rec.BlackPlayerID == "",
				Status:   rec.Status,
			}, nil
		}
	}
	g, err := a.store.FindGame(ctx, roomID)
	if errors.Is(err, store.ErrGameNotFound) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	// persisted but not live: a restart dropped the actor
	return &chessdto.JoinableResponse{RoomID: roomID, Joinable: false, Status: g.Status}, nil
}

// View projects a record onto its REST shape.
func View(g *store.GameRecord) chessdto.GameView {
	moves := make([]chessdto.MoveLogEntry, 0, len(g.Moves))
	for _, m := range g.Moves {
		moves = append(moves, chessdto.MoveLogEntry{Move: m.Move, SAN: m.SAN, Side: m.Side, Timestamp: m.Timestamp})
	}
	return chessdto.GameView{
		RoomID:             g.RoomID,
		WhitePlayerID:      g.WhitePlayerID,
		BlackPlayerID:      g.BlackPlayerID,
		WinnerID:           g.WinnerID,
		Winner:             g.Winner,
		Reason:             g.Reason,
		Status:             g.Status,
		IsOngoing:          g.IsOngoing,
		InvitationType:     g.InvitationType,
		CurrentPosition:    g.CurrentPosition,
		FinalPosition:      g.FinalPosition,
		Turn:               g.Turn,
		TimeControl:        g.TimeControl,
		WhiteRemainingMs:   g.WhiteRemainingMs,
		BlackRemainingMs:   g.BlackRemainingMs,
		IncrementMs:        g.IncrementMs,
		LastMoveTimestamp:  g.LastMoveTimestamp,
		WhiteRatingAtStart: g.WhiteRatingAtStart,
		BlackRatingAtStart: g.BlackRatingAtStart,
		WhiteRatingDelta:   g.WhiteRatingDelta,
		BlackRatingDelta:   g.BlackRatingDelta,
		Moves:              moves,
		PGN:                g.PGN,
		CreatedAt:          g.CreatedAt,
		UpdatedAt:          g.UpdatedAt,
	}
}

// ErrorFor exposes the wire mapping to the REST layer.
func (a *Arena) ErrorFor(err error, roomID string) chessdto.DomainError {
	return a.domainError(err, "", roomID)
}

// Shutdown stops every session and drains the queue.
func (a *Arena) Shutdown(ctx context.Context) error {
	for _, e := range a.queue.Reset() {
		a.names.Delete(e.ConnID)
	}
	return a.registry.Close(ctx)
}
