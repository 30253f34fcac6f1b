package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-chess-server/internal/rules"
	"github.com/park285/cheese-chess-server/internal/store"
	"github.com/park285/cheese-chess-server/internal/timectl"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
	"go.uber.org/zap"
)

// open persists the initial record. It runs on the caller's goroutine before
// the actor starts, so nothing else can observe the session yet.
func (s *Session) open(ctx context.Context, p CreateParams) error {
	now := s.cfg.Now()
	wr, wname := s.ratingFor(ctx, p.White.UserID, p.White.Name)
	s.white = seat{UserID: p.White.UserID, Name: nameOr(wname, p.White.UserID)}

	rec := &store.GameRecord{
		RoomID:             s.id,
		WhitePlayerID:      p.White.UserID,
		Status:             store.StatusWaiting,
		IsOngoing:          true,
		InvitationType:     p.InvitationType,
		CurrentPosition:    rules.StartFEN,
		Turn:               White,
		Moves:              []store.MoveEntry{},
		TimeControl:        p.Control.Name,
		WhiteRemainingMs:   p.Control.InitialMs(),
		BlackRemainingMs:   p.Control.InitialMs(),
		IncrementMs:        p.Control.IncrementMs(),
		WhiteRatingAtStart: wr,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if p.Black != nil {
		br, bname := s.ratingFor(ctx, p.Black.UserID, p.Black.Name)
		s.black = seat{UserID: p.Black.UserID, Name: nameOr(bname, p.Black.UserID)}
		rec.BlackPlayerID = p.Black.UserID
		rec.BlackRatingAtStart = br
		if p.White.ConnID != "" && p.Black.ConnID != "" {
			rec.Status = store.StatusOngoing
			rec.LastMoveTimestamp = now.UnixMilli()
		}
	}

	if err := s.deps.Store.CreateGame(ctx, rec); err != nil {
		if errors.Is(err, store.ErrRoomExists) {
			return ErrRoomExists
		}
		return fmt.Errorf("%w: create game: %v", ErrPersistence, err)
	}
	s.commit(rec)

	// Create already refused connections seated elsewhere
	if p.White.ConnID != "" {
		s.openSeat(White, p.White.ConnID)
	}
	if p.Black != nil && p.Black.ConnID != "" {
		s.openSeat(Black, p.Black.ConnID)
	}
	s.republish()
	s.armExpiry()

	s.log.Info("session_open",
		zap.String("white_id", rec.WhitePlayerID),
		zap.String("black_id", rec.BlackPlayerID),
		zap.String("time_control", rec.TimeControl),
		zap.String("status", rec.Status),
	)
	if rec.Status == store.StatusOngoing {
		s.start()
	}
	return nil
}

func (s *Session) openSeat(side, connID string) {
	if err := s.bindConn(side, connID); err != nil {
		s.log.Warn("session_bind_refused", zap.String("side", side), zap.String("conn_id", connID), zap.Error(err))
		return
	}
	s.out().Send(connID, chessdto.NewEvent(chessdto.EventJoinedRoom, chessdto.JoinedRoom{RoomID: s.id, Side: side}))
}

// start broadcasts gameStart and arms the clock for white.
func (s *Session) start() {
	r := s.rec
	s.out().Broadcast(s.id, chessdto.NewEvent(chessdto.EventGameStart, chessdto.GameStart{
		RoomID:           s.id,
		WhitePlayer:      r.WhitePlayerID,
		WhitePlayerName:  s.white.Name,
		BlackPlayer:      r.BlackPlayerID,
		BlackPlayerName:  s.black.Name,
		CurrentPosition:  r.CurrentPosition,
		Turn:             r.Turn,
		TimeControl:      r.TimeControl,
		WhiteRemainingMs: r.WhiteRemainingMs,
		BlackRemainingMs: r.BlackRemainingMs,
	}))
	s.armFlag()
}

// Join binds a connection to a side. A user already seated is rebound; a new
// user takes the empty black seat of a waiting invite. The game starts once
// both seats hold a connection.
func (s *Session) Join(ctx context.Context, connID, userID, name string) (string, error) {
	var side string
	err := s.exec(ctx, func(ctx context.Context) error {
		var err error
		side, err = s.join(ctx, connID, strings.TrimSpace(userID), name)
		return err
	})
	return side, err
}

func (s *Session) join(ctx context.Context, connID, userID, name string) (string, error) {
	if s.rec.Status == store.StatusFinished {
		return "", ErrAlreadySettled
	}
	if userID == "" {
		return "", ErrNotAPlayer
	}
	if side := s.sideOfUser(userID); side != "" {
		if err := s.bindConn(side, connID); err != nil {
			return "", err
		}
		s.clearGrace(side)
		s.republish()
		s.out().Send(connID, chessdto.NewEvent(chessdto.EventJoinedRoom, chessdto.JoinedRoom{RoomID: s.id, Side: side}))
		s.log.Info("session_join_seated", zap.String("user_id", userID), zap.String("conn_id", connID), zap.String("side", side))
		if s.rec.Status == store.StatusOngoing {
			s.out().Send(connID, s.rejoinedEvent())
			return side, nil
		}
		if err := s.startIfReady(ctx); err != nil {
			return "", err
		}
		return side, nil
	}
	if s.rec.Status != store.StatusWaiting || s.black.UserID != "" {
		return "", ErrNotAPlayer
	}
	if other, ok := s.reg.boundElsewhere(connID, s.id); ok {
		return "", &ConnBoundError{RoomID: other}
	}

	rating, bname := s.ratingFor(ctx, userID, name)
	next := s.rec.Clone()
	next.BlackPlayerID = userID
	next.BlackRatingAtStart = rating
	next.UpdatedAt = s.cfg.Now()
	if err := s.deps.Store.UpdateGame(ctx, next); err != nil {
		s.log.Error("session_persist_error", zap.String("op", "join"), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.black = seat{UserID: userID, Name: nameOr(bname, userID)}
	s.commit(next)
	if err := s.bindConn(Black, connID); err != nil {
		// seated without a connection; a later joinRoom binds and starts
		s.log.Warn("session_bind_refused", zap.String("side", Black), zap.String("conn_id", connID), zap.Error(err))
		return "", err
	}
	s.republish()
	s.out().Send(connID, chessdto.NewEvent(chessdto.EventJoinedRoom, chessdto.JoinedRoom{RoomID: s.id, Side: Black}))
	s.log.Info("session_join_black", zap.String("user_id", userID), zap.String("conn_id", connID))
	if err := s.startIfReady(ctx); err != nil {
		return "", err
	}
	return Black, nil
}

// startIfReady moves a waiting room with both seats connected to ongoing and
// starts white's clock.
func (s *Session) startIfReady(ctx context.Context) error {
	if s.rec.Status != store.StatusWaiting || s.black.UserID == "" || s.white.ConnID == "" || s.black.ConnID == "" {
		return nil
	}
	now := s.cfg.Now()
	next := s.rec.Clone()
	next.Status = store.StatusOngoing
	next.LastMoveTimestamp = now.UnixMilli()
	next.UpdatedAt = now
	if err := s.deps.Store.UpdateGame(ctx, next); err != nil {
		s.log.Error("session_persist_error", zap.String("op", "start"), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.commit(next)
	s.stopExpiry()
	s.start()
	return nil
}

// Move submits a move from the side bound to connID. userID, when set, must
// match that side.
func (s *Session) Move(ctx context.Context, connID, userID string, mv rules.Move) error {
	return s.exec(ctx, func(ctx context.Context) error {
		return s.move(ctx, connID, strings.TrimSpace(userID), mv)
	})
}

func (s *Session) move(ctx context.Context, connID, userID string, mv rules.Move) error {
	if s.rec.Status == store.StatusFinished {
		return ErrAlreadySettled
	}
	side := s.sideOfConn(connID)
	if side == "" || (userID != "" && s.seat(side).UserID != userID) {
		return ErrNotAPlayer
	}
	if s.rec.Status != store.StatusOngoing || side != s.rec.Turn {
		return ErrOutOfTurn
	}

	now := s.cfg.Now()
	remaining := s.charge(side, now)
	if remaining <= 0 {
		// the flag fell before this move arrived
		s.log.Info("session_flag_on_move", zap.String("side", side))
		if err := s.settleTimeout(ctx, side, now); err != nil {
			return err
		}
		return ErrAlreadySettled
	}

	res, err := s.deps.Rules.Apply(rules.Position{FEN: s.rec.CurrentPosition, History: s.history}, mv)
	if err != nil {
		if errors.Is(err, rules.ErrIllegalMove) {
			s.out().Send(connID, chessdto.NewEvent(chessdto.EventInvalidMove, chessdto.InvalidMove{
				RoomID: s.id,
				Move:   moveSpec(mv),
			}))
			return ErrIllegalMove
		}
		s.log.Error("session_rules_error", zap.Error(err))
		return err
	}

	next := s.rec.Clone()
	setRemaining(next, side, remaining)
	next.CurrentPosition = res.FEN
	next.Turn = res.Turn
	next.LastMoveTimestamp = now.UnixMilli()
	next.UpdatedAt = now
	next.Moves = append(next.Moves, store.MoveEntry{Move: res.UCI, SAN: res.SAN, Side: side, Timestamp: now})

	moved := chessdto.NewEvent(chessdto.EventMove, chessdto.MoveMade{
		RoomID:           s.id,
		CurrentPosition:  next.CurrentPosition,
		Turn:             next.Turn,
		WhiteRemainingMs: next.WhiteRemainingMs,
		BlackRemainingMs: next.BlackRemainingMs,
		Move:             moveSpec(mv),
		SAN:              res.SAN,
	})

	if res.Status != rules.Ongoing {
		if err := s.settle(ctx, next, res.Winner, string(res.Status), &moved); err != nil {
			return err
		}
		s.history = res.History
		return nil
	}

	if err := s.deps.Store.UpdateGame(ctx, next); err != nil {
		s.log.Error("session_persist_error", zap.String("op", "move"), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.history = res.History
	s.commit(next)
	s.out().Broadcast(s.id, moved)
	s.log.Debug("session_move", zap.String("side", side), zap.String("uci", res.UCI), zap.Int("ply", len(s.history)))
	s.armFlag()
	return nil
}

// Disconnect starts the grace timer for whichever side connID holds.
func (s *Session) Disconnect(ctx context.Context, connID string) error {
	return s.exec(ctx, func(ctx context.Context) error {
		side := s.sideOfConn(connID)
		if side == "" {
			return nil
		}
		st := s.seat(side)
		st.ConnID = ""
		s.reg.unbind(connID, s.id)
		s.out().Unsubscribe(connID, s.id)
		s.republish()
		if s.rec.Status != store.StatusOngoing {
			s.armExpiry()
			return nil
		}
		s.armGrace(side)
		s.log.Info("session_disconnect", zap.String("side", side), zap.String("conn_id", connID), zap.Duration("grace", s.cfg.Grace))
		return nil
	})
}

// Rejoin resynchronises a returning player and cancels its grace timer.
func (s *Session) Rejoin(ctx context.Context, connID, userID string) error {
	return s.exec(ctx, func(ctx context.Context) error {
		switch s.rec.Status {
		case store.StatusFinished:
			return ErrAlreadySettled
		case store.StatusWaiting:
			return ErrNotStarted
		}
		side := s.sideOfUser(userID)
		if side == "" {
			return ErrNotAPlayer
		}
		if err := s.bindConn(side, connID); err != nil {
			return err
		}
		s.clearGrace(side)
		s.republish()
		s.out().Send(connID, s.rejoinedEvent())
		s.log.Info("session_rejoin", zap.String("side", side), zap.String("conn_id", connID))
		return nil
	})
}

// Cancel deletes a waiting invite. Only its creator may cancel it.
func (s *Session) Cancel(ctx context.Context, userID string) error {
	return s.exec(ctx, func(ctx context.Context) error {
		if s.rec.Status == store.StatusFinished {
			return ErrAlreadySettled
		}
		if s.rec.Status != store.StatusWaiting || s.black.UserID != "" || strings.TrimSpace(userID) != s.white.UserID {
			return ErrNotCancellable
		}
		if err := s.deps.Store.DeleteGame(ctx, s.id); err != nil && !errors.Is(err, store.ErrGameNotFound) {
			s.log.Error("session_persist_error", zap.String("op", "cancel"), zap.Error(err))
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		s.out().Broadcast(s.id, chessdto.NewEvent(chessdto.EventCancelled, chessdto.Cancelled{RoomID: s.id}))
		s.log.Info("session_cancel", zap.String("user_id", userID))
		s.exitErr = ErrRoomNotFound
		return nil
	})
}

// Resign concedes for the side bound to connID.
func (s *Session) Resign(ctx context.Context, connID, userID string) error {
	return s.exec(ctx, func(ctx context.Context) error {
		if s.rec.Status == store.StatusFinished {
			return ErrAlreadySettled
		}
		side := s.sideOfConn(connID)
		if side == "" || (userID != "" && s.seat(side).UserID != strings.TrimSpace(userID)) {
			return ErrNotAPlayer
		}
		if s.rec.Status != store.StatusOngoing {
			return ErrNotStarted
		}
		next := s.rec.Clone()
		now := s.cfg.Now()
		setRemaining(next, side, s.charge(side, now))
		next.UpdatedAt = now
		return s.settle(ctx, next, opponent(side), ReasonResignation, nil)
	})
}

// Settle finishes the game with an externally declared outcome. Calls after
// the first successful settlement return ErrAlreadySettled.
func (s *Session) Settle(ctx context.Context, winner, reason string) error {
	return s.exec(ctx, func(ctx context.Context) error {
		if s.rec.Status == store.StatusFinished {
			return ErrAlreadySettled
		}
		if s.rec.Status != store.StatusOngoing {
			return ErrNotStarted
		}
		next := s.rec.Clone()
		next.UpdatedAt = s.cfg.Now()
		return s.settle(ctx, next, winner, reason, nil)
	})
}

// PendingDisconnects lists the sides whose grace timer is running.
func (s *Session) PendingDisconnects(ctx context.Context) ([]string, error) {
	var out []string
	err := s.exec(ctx, func(context.Context) error {
		for _, side := range []string{White, Black} {
			if _, ok := s.grace[side]; ok {
				out = append(out, side)
			}
		}
		return nil
	})
	return out, err
}

// rejoinedEvent snapshots the room with the running clock of the side on
// turn charged up to now.
func (s *Session) rejoinedEvent() chessdto.Event {
	r := s.rec.Clone()
	if r.Status == store.StatusOngoing && r.LastMoveTimestamp > 0 {
		live := timectl.Remaining(remainingOf(r, r.Turn), time.UnixMilli(r.LastMoveTimestamp), s.cfg.Now())
		setRemaining(r, r.Turn, live)
	}
	return chessdto.NewEvent(chessdto.EventRejoined, chessdto.Rejoined{
		RoomID:           s.id,
		CurrentPosition:  r.CurrentPosition,
		Turn:             r.Turn,
		WhitePlayer:      r.WhitePlayerID,
		BlackPlayer:      r.BlackPlayerID,
		WhiteRemainingMs: r.WhiteRemainingMs,
		BlackRemainingMs: r.BlackRemainingMs,
		TimeControl:      r.TimeControl,
		Moves:            append([]string{}, s.history...),
	})
}

// charge is the mover's clock after paying for the time since the last move.
func (s *Session) charge(side string, now time.Time) int64 {
	elapsed := now.UnixMilli() - s.rec.LastMoveTimestamp
	return timectl.Charge(remainingOf(s.rec, side), elapsed, s.rec.IncrementMs)
}

func remainingOf(r *store.GameRecord, side string) int64 {
	if side == White {
		return r.WhiteRemainingMs
	}
	return r.BlackRemainingMs
}

func setRemaining(r *store.GameRecord, side string, ms int64) {
	if ms < 0 {
		ms = 0
	}
	if side == White {
		r.WhiteRemainingMs = ms
	} else {
		r.BlackRemainingMs = ms
	}
}

func moveSpec(mv rules.Move) chessdto.MoveSpec {
	return chessdto.MoveSpec{From: mv.From, To: mv.To, Promotion: mv.Promotion}
}

func nameOr(name, fallback string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return fallback
}
