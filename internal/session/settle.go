package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/park285/cheese-chess-server/internal/elo"
	"github.com/park285/cheese-chess-server/internal/store"
	"github.com/park285/cheese-chess-server/internal/util"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
	"go.uber.org/zap"
)

// Outcome reasons.
const (
	ReasonCheckmate   = "checkmate"
	ReasonStalemate   = "stalemate"
	ReasonDrawRule    = "draw-rule"
	ReasonTimeout     = "timeout"
	ReasonResignation = "resignation"
	ReasonAbandonment = "abandonment"
)

const settleTimeout = 5 * time.Second

// settle is the only path to Finished. It persists the final record and both
// ratings in one store call, then commits, broadcasts and stops the actor.
// pre, when set, is broadcast just before gameOver.
func (s *Session) settle(ctx context.Context, base *store.GameRecord, winner, reason string, pre *chessdto.Event) error {
	if s.rec.Status == store.StatusFinished {
		return ErrAlreadySettled
	}
	switch winner {
	case White, Black, "draw":
	default:
		return fmt.Errorf("settle: unknown winner %q", winner)
	}

	final := base.Clone()
	newWhite, newBlack := elo.Calculate(final.WhiteRatingAtStart, final.BlackRatingAtStart, elo.Result(winner))
	final.Status = store.StatusFinished
	final.IsOngoing = false
	final.Winner = winner
	final.Reason = reason
	switch winner {
	case White:
		final.WinnerID = final.WhitePlayerID
	case Black:
		final.WinnerID = final.BlackPlayerID
	default:
		final.WinnerID = ""
	}
	final.FinalPosition = final.CurrentPosition
	final.WhiteRatingDelta = newWhite - final.WhiteRatingAtStart
	final.BlackRatingDelta = newBlack - final.BlackRatingAtStart
	if final.UpdatedAt.IsZero() {
		final.UpdatedAt = s.cfg.Now()
	}
	final.PGN = store.BuildPGN(final, s.white.Name, s.black.Name)

	// settlement outlives a cancelled request
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	err := util.Retry(pctx, s.cfg.SettleAttempts, retryableStoreErr, func(ctx context.Context) error {
		return s.deps.Store.Settle(ctx, store.Settlement{Game: final, WhiteRating: newWhite, BlackRating: newBlack})
	})
	switch {
	case errors.Is(err, store.ErrAlreadyFinished):
		// another writer finished this room first; adopt the stored result
		if stored, ferr := s.deps.Store.FindGame(pctx, s.id); ferr == nil {
			final = stored
		}
		s.log.Warn("session_settle_conflict", zap.String("reason", reason))
	case err != nil:
		s.log.Error("session_settle_persist_error", zap.String("reason", reason), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	s.commit(final)
	s.exitErr = ErrAlreadySettled
	s.stopFlag()
	for side := range s.grace {
		s.clearGrace(side)
	}

	if pre != nil {
		s.out().Broadcast(s.id, *pre)
	}
	s.out().Broadcast(s.id, chessdto.NewEvent(chessdto.EventGameOver, chessdto.GameOver{
		RoomID:           s.id,
		Winner:           final.Winner,
		Reason:           final.Reason,
		WhiteRating:      final.WhiteRatingAtStart + final.WhiteRatingDelta,
		BlackRating:      final.BlackRatingAtStart + final.BlackRatingDelta,
		WhiteRatingDelta: final.WhiteRatingDelta,
		BlackRatingDelta: final.BlackRatingDelta,
	}))
	s.log.Info("session_settle",
		zap.String("winner", final.Winner),
		zap.String("reason", final.Reason),
		zap.Int("white_rating", final.WhiteRatingAtStart+final.WhiteRatingDelta),
		zap.Int("black_rating", final.BlackRatingAtStart+final.BlackRatingDelta),
		zap.Int("plies", len(final.Moves)),
	)
	return nil
}

// settleTimeout finishes the game with side's flag down.
func (s *Session) settleTimeout(ctx context.Context, side string, now time.Time) error {
	next := s.rec.Clone()
	setRemaining(next, side, 0)
	next.UpdatedAt = now
	return s.settle(ctx, next, opponent(side), ReasonTimeout, nil)
}

func retryableStoreErr(err error) bool {
	return !errors.Is(err, store.ErrAlreadyFinished) && !errors.Is(err, store.ErrGameNotFound)
}
