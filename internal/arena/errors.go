package arena

import (
	"errors"
	"strings"

	"github.com/park285/cheese-chess-server/internal/matchmaking"
	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
)

var (
	errUnknownEvent = errors.New("unknown event")
	errBadPayload   = errors.New("malformed payload")
)

type timeControlError struct{ name string }

func (e *timeControlError) Error() string { return "unknown time control: " + e.name }

// DomainError maps an engine error to its wire form.
func (a *Arena) domainError(err error, event, roomID string) chessdto.DomainError {
	data := map[string]any{"Event": event, "RoomID": roomID}
	code, key, retry := chessdto.CodeInternal, "errors.internal", false

	var tc *timeControlError
	var cb *session.ConnBoundError
	switch {
	case errors.As(err, &tc):
		code, key = chessdto.CodeUnknownTimeControl, "errors.unknown_time_control"
		data["TimeControl"] = tc.name
		data["Available"] = strings.Join(a.presets.Names(), ", ")
	case errors.As(err, &cb):
		code, key = chessdto.CodeBadRequest, "errors.in_game"
		data["RoomID"] = cb.RoomID
	case errors.Is(err, errUnknownEvent):
		code, key = chessdto.CodeUnknownEvent, "errors.unknown_event"
	case errors.Is(err, errBadPayload), errors.Is(err, matchmaking.ErrInvalidArgs):
		code, key = chessdto.CodeBadRequest, "errors.bad_request"
	case errors.Is(err, matchmaking.ErrAlreadyQueued):
		code, key = chessdto.CodeAlreadyQueued, "errors.already_queued"
	case errors.Is(err, ErrGameNotFound), errors.Is(err, session.ErrRoomNotFound), errors.Is(err, session.ErrNotStarted):
		code, key = chessdto.CodeRoomNotFound, "errors.room_not_found"
	case errors.Is(err, session.ErrNotAPlayer):
		code, key = chessdto.CodeNotAPlayer, "errors.not_a_player"
	case errors.Is(err, session.ErrRoomFull):
		code, key = chessdto.CodeRoomFull, "errors.room_full"
	case errors.Is(err, session.ErrAlreadySettled):
		code, key = chessdto.CodeAlreadySettled, "errors.already_settled"
	case errors.Is(err, session.ErrNotCancellable):
		code, key = chessdto.CodeNotCancellable, "errors.not_cancellable"
	case errors.Is(err, session.ErrPersistence):
		code, key, retry = chessdto.CodePersistence, "errors.persistence_failure", true
	case errors.Is(err, session.ErrCapacity), errors.Is(err, session.ErrClosed):
		code, key, retry = chessdto.CodeCapacity, "errors.capacity_exceeded", true
	}
	return chessdto.DomainError{
		Code:      code,
		Message:   a.msgs.Text(key, data, err.Error()),
		Retryable: retry,
	}
}
