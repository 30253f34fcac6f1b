package session

import "errors"

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrNotAPlayer     = errors.New("not a player in this room")
	ErrOutOfTurn      = errors.New("not your turn")
	ErrIllegalMove    = errors.New("illegal move")
	ErrAlreadySettled = errors.New("game already settled")
	ErrPersistence    = errors.New("persistence failure")
	ErrNotCancellable = errors.New("room cannot be cancelled")
	ErrRoomExists     = errors.New("room already exists")
	ErrNotStarted     = errors.New("game has not started")
	ErrRoomFull       = errors.New("room already has two players")
	ErrCapacity       = errors.New("room capacity exceeded")
	ErrClosed         = errors.New("session closed")
	ErrConnInUse      = errors.New("connection bound to another room")
)

// ConnBoundError names the room a connection is already seated in.
type ConnBoundError struct{ RoomID string }

func (e *ConnBoundError) Error() string { return "connection already in room " + e.RoomID }
func (e *ConnBoundError) Unwrap() error { return ErrConnInUse }

// Silent reports whether err is dropped without notifying the client.
func Silent(err error) bool {
	return errors.Is(err, ErrOutOfTurn) || errors.Is(err, ErrAlreadySettled) || errors.Is(err, ErrIllegalMove)
}
