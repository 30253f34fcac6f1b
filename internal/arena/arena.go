// Package arena routes transport intents to the matchmaking queue and the
// session registry, and turns their errors into client-facing events.
package arena

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/park285/cheese-chess-server/internal/matchmaking"
	"github.com/park285/cheese-chess-server/internal/msgcat"
	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/rules"
	"github.com/park285/cheese-chess-server/internal/session"
	"github.com/park285/cheese-chess-server/internal/store"
	"github.com/park285/cheese-chess-server/internal/timectl"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
	"go.uber.org/zap"
)

// Sender delivers a single event to one connection.
type Sender interface {
	Send(connID string, ev chessdto.Event)
}

// Arena is process-scoped: one per server.
type Arena struct {
	queue    *matchmaking.Queue
	registry *session.Registry
	presets  *timectl.Presets
	store    store.GameStore
	msgs     *msgcat.Catalog
	out      Sender
	newID    func() string

	names sync.Map // connID -> display name supplied on join
}

type Options struct {
	Queue    *matchmaking.Queue
	Registry *session.Registry
	Presets  *timectl.Presets
	Store    store.GameStore
	Messages *msgcat.Catalog
	Out      Sender
	// NewRoomID overrides uuid room ids in tests.
	NewRoomID func() string
}

func New(o Options) *Arena {
	a := &Arena{
		queue:    o.Queue,
		registry: o.Registry,
		presets:  o.Presets,
		store:    o.Store,
		msgs:     o.Messages,
		out:      o.Out,
		newID:    o.NewRoomID,
	}
	if a.queue == nil {
		a.queue = matchmaking.New()
	}
	if a.presets == nil {
		a.presets = timectl.Defaults()
	}
	if a.msgs == nil {
		a.msgs = msgcat.MustDefault()
	}
	if a.newID == nil {
		a.newID = func() string { return uuid.NewString() }
	}
	return a
}

// QueueDepth and Rooms feed the health endpoint.
func (a *Arena) QueueDepth() int { return a.queue.Len() }
func (a *Arena) Rooms() int      { return a.registry.Len() }

// Handle dispatches one inbound frame from connID.
func (a *Arena) Handle(ctx context.Context, connID string, in chessdto.Inbound) {
	log := obslog.L().With(zap.String("conn_id", connID), zap.String("event", in.Event))
	var err error
	var roomID string
	switch in.Event {
	case chessdto.EventJoin:
		var p chessdto.JoinPayload
		if err = decode(in.Payload, &p); err == nil {
			err = a.join(ctx, connID, p)
		}
	case chessdto.EventJoinRoom:
		var p chessdto.JoinRoomPayload
		if err = decode(in.Payload, &p); err == nil {
			roomID = p.RoomID
			err = a.joinRoom(ctx, connID, p)
		}
	case chessdto.EventMove:
		var p chessdto.MovePayload
		if err = decode(in.Payload, &p); err == nil {
			roomID = p.RoomID
			err = a.withRoom(p.RoomID, func(s *session.Session) error {
				return s.Move(ctx, connID, p.UserID, rules.Move{From: p.Move.From, To: p.Move.To, Promotion: p.Move.Promotion})
			})
		}
	case chessdto.EventRejoin:
		var p chessdto.RoomPayload
		if err = decode(in.Payload, &p); err == nil {
			roomID = p.RoomID
			err = a.rejoin(ctx, connID, p)
		}
	case chessdto.EventCancelRoom:
		var p chessdto.RoomPayload
		if err = decode(in.Payload, &p); err == nil {
			roomID = p.RoomID
			err = a.withRoom(p.RoomID, func(s *session.Session) error { return s.Cancel(ctx, p.UserID) })
		}
	case chessdto.EventResign:
		var p chessdto.RoomPayload
		if err = decode(in.Payload, &p); err == nil {
			roomID = p.RoomID
			err = a.withRoom(p.RoomID, func(s *session.Session) error { return s.Resign(ctx, connID, p.UserID) })
		}
	case chessdto.EventLeave:
		a.Disconnect(ctx, connID)
	default:
		err = errUnknownEvent
	}
	if err == nil || session.Silent(err) {
		if err != nil {
			log.Debug("arena_intent_dropped", zap.Error(err))
		}
		return
	}
	log.Info("arena_intent_rejected", zap.String("room_id", roomID), zap.Error(err))
	a.out.Send(connID, chessdto.ErrorEvent(a.domainError(err, in.Event, roomID)))
}

// HandleFrame decodes one raw text frame and dispatches it. A frame that is
// not an envelope gets a bad_request reply and the connection stays open.
func (a *Arena) HandleFrame(ctx context.Context, connID string, data []byte) {
	var in chessdto.Inbound
	if err := json.Unmarshal(data, &in); err != nil || in.Event == "" {
		a.out.Send(connID, chessdto.ErrorEvent(a.domainError(errBadPayload, "", "")))
		return
	}
	a.Handle(ctx, connID, in)
}

// Disconnect handles a transport-level close or an explicit leave.
func (a *Arena) Disconnect(ctx context.Context, connID string) {
	a.names.Delete(connID)
	if a.queue.Dequeue(connID) {
		obslog.L().Info("queue_leave", zap.String("conn_id", connID))
	}
	if s, ok := a.registry.GetByConnection(connID); ok {
		if err := s.Disconnect(ctx, connID); err != nil && !errors.Is(err, session.ErrAlreadySettled) {
			obslog.Room(s.RoomID()).Warn("arena_disconnect_error", zap.String("conn_id", connID), zap.Error(err))
		}
	}
}

func (a *Arena) join(ctx context.Context, connID string, p chessdto.JoinPayload) error {
	control, err := a.presets.Lookup(p.TimeControl)
	if err != nil {
		return &timeControlError{name: p.TimeControl}
	}
	if err := a.ensureFree(connID, ""); err != nil {
		return err
	}
	if n := strings.TrimSpace(p.UserName); n != "" {
		a.names.Store(connID, n)
	}
	pair, err := a.queue.Enqueue(connID, p.UserID, control.Name)
	if err != nil {
		return err
	}
	if pair == nil {
		a.out.Send(connID, chessdto.NewEvent(chessdto.EventQueued, chessdto.Queued{
			UserID: p.UserID, TimeControl: control.Name, Position: a.queue.Len(),
		}))
		obslog.L().Info("queue_wait", zap.String("conn_id", connID), zap.String("user_id", p.UserID), zap.String("time_control", control.Name))
		return nil
	}

	roomID := a.newID()
	obslog.L().Info("queue_pair",
		zap.String("room_id", roomID),
		zap.String("white_id", pair.White.UserID),
		zap.String("black_id", pair.Black.UserID),
		zap.String("time_control", control.Name),
	)
	_, err = a.registry.Create(ctx, session.CreateParams{
		RoomID:         roomID,
		White:          session.Player{UserID: pair.White.UserID, Name: a.name(pair.White.ConnID), ConnID: pair.White.ConnID},
		Black:          &session.Player{UserID: pair.Black.UserID, Name: a.name(pair.Black.ConnID), ConnID: pair.Black.ConnID},
		Control:        control,
		InvitationType: store.InviteMatchmaking,
	})
	if err != nil {
		// the waiting opponent hears about it too; the joiner gets the
		// error through the normal reply path
		a.out.Send(pair.White.ConnID, chessdto.ErrorEvent(a.domainError(err, chessdto.EventJoin, roomID)))
		return err
	}
	return nil
}

func (a *Arena) joinRoom(ctx context.Context, connID string, p chessdto.JoinRoomPayload) error {
	if err := a.ensureFree(connID, p.RoomID); err != nil {
		return err
	}
	return a.withRoom(p.RoomID, func(s *session.Session) error {
		_, err := s.Join(ctx, connID, p.UserID, p.UserName)
		return err
	})
}

func (a *Arena) rejoin(ctx context.Context, connID string, p chessdto.RoomPayload) error {
	if err := a.ensureFree(connID, p.RoomID); err != nil {
		return err
	}
	return a.withRoom(p.RoomID, func(s *session.Session) error { return s.Rejoin(ctx, connID, p.UserID) })
}

// ensureFree refuses a connection already seated in a room other than roomID.
func (a *Arena) ensureFree(connID, roomID string) error {
	if s, ok := a.registry.GetByConnection(connID); ok && s.RoomID() != strings.TrimSpace(roomID) {
		return &session.ConnBoundError{RoomID: s.RoomID()}
	}
	return nil
}

func (a *Arena) withRoom(roomID string, fn func(*session.Session) error) error {
	s, ok := a.registry.GetByRoom(roomID)
	if !ok {
		return session.ErrRoomNotFound
	}
	return fn(s)
}

func (a *Arena) name(connID string) string {
	if v, ok := a.names.Load(connID); ok {
		return v.(string)
	}
	return ""
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errBadPayload
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errBadPayload
	}
	return nil
}
