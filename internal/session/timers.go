package session

import (
	"context"
	"errors"
	"time"

	"github.com/park285/cheese-chess-server/internal/store"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
	"go.uber.org/zap"
)

// Timer callbacks only post closures into the inbox; every check and
// mutation happens on the actor.

func (s *Session) armGrace(side string) {
	s.clearGrace(side)
	s.gen++
	gen := s.gen
	t := time.AfterFunc(s.cfg.Grace, func() {
		s.post(func() { s.graceExpired(side, gen) })
	})
	s.grace[side] = &graceTimer{gen: gen, timer: t}
}

func (s *Session) clearGrace(side string) {
	if g, ok := s.grace[side]; ok {
		g.timer.Stop()
		delete(s.grace, side)
	}
}

func (s *Session) graceExpired(side string, gen uint64) {
	g, ok := s.grace[side]
	if !ok || g.gen != gen || s.rec.Status != store.StatusOngoing {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	next := s.rec.Clone()
	next.UpdatedAt = s.cfg.Now()
	s.log.Info("session_grace_expired", zap.String("side", side))
	err := s.settle(ctx, next, opponent(side), ReasonAbandonment, nil)
	if errors.Is(err, ErrPersistence) {
		// keep the slot so a rejoin still cancels the retry
		g.timer = time.AfterFunc(s.cfg.TimerRetry, func() {
			s.post(func() { s.graceExpired(side, gen) })
		})
	}
}

// armFlag schedules a clock-expiry check for the side on turn.
func (s *Session) armFlag() {
	s.stopFlag()
	if s.rec.Status != store.StatusOngoing {
		return
	}
	side := s.rec.Turn
	ply := len(s.rec.Moves)
	left := remainingOf(s.rec, side) + s.rec.IncrementMs - (s.nowMs() - s.rec.LastMoveTimestamp)
	s.flag = time.AfterFunc(time.Duration(max(left, 0))*time.Millisecond, func() {
		s.post(func() { s.flagFell(side, ply) })
	})
}

func (s *Session) stopFlag() {
	if s.flag != nil {
		s.flag.Stop()
		s.flag = nil
	}
}

func (s *Session) flagFell(side string, ply int) {
	if s.rec.Status != store.StatusOngoing || s.rec.Turn != side || len(s.rec.Moves) != ply {
		return
	}
	now := s.cfg.Now()
	if s.charge(side, now) > 0 {
		// woke early relative to the injected clock
		s.armFlag()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	s.log.Info("session_flag", zap.String("side", side))
	if err := s.settleTimeout(ctx, side, now); errors.Is(err, ErrPersistence) {
		s.flag = time.AfterFunc(s.cfg.TimerRetry, func() {
			s.post(func() { s.flagFell(side, ply) })
		})
	}
}

// armExpiry schedules removal of a waiting room that no connection holds.
func (s *Session) armExpiry() {
	s.stopExpiry()
	if s.rec.Status != store.StatusWaiting || s.white.ConnID != "" || s.black.ConnID != "" {
		return
	}
	s.gen++
	gen := s.gen
	s.expiry = &graceTimer{gen: gen, timer: time.AfterFunc(s.cfg.WaitingTTL, func() {
		s.post(func() { s.expire(gen) })
	})}
}

func (s *Session) stopExpiry() {
	if s.expiry != nil {
		s.expiry.timer.Stop()
		s.expiry = nil
	}
}

func (s *Session) expire(gen uint64) {
	e := s.expiry
	if e == nil || e.gen != gen || s.rec.Status != store.StatusWaiting || s.white.ConnID != "" || s.black.ConnID != "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	if err := s.deps.Store.DeleteGame(ctx, s.id); err != nil && !errors.Is(err, store.ErrGameNotFound) {
		s.log.Error("session_persist_error", zap.String("op", "expire"), zap.Error(err))
		e.timer = time.AfterFunc(s.cfg.TimerRetry, func() {
			s.post(func() { s.expire(gen) })
		})
		return
	}
	s.expiry = nil
	s.out().Broadcast(s.id, chessdto.NewEvent(chessdto.EventCancelled, chessdto.Cancelled{RoomID: s.id}))
	s.log.Info("session_expired", zap.Duration("ttl", s.cfg.WaitingTTL))
	s.exitErr = ErrRoomNotFound
}
