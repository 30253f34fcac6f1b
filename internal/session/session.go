// Package session runs one actor goroutine per room. Every read-modify-write
// of a room's state, including its disconnect and clock timers, is a closure
// executed on that goroutine, so rooms never share locks with each other.
package session

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/park285/cheese-chess-server/internal/obslog"
	"github.com/park285/cheese-chess-server/internal/rules"
	"github.com/park285/cheese-chess-server/internal/store"
	"github.com/park285/cheese-chess-server/internal/timectl"
	"github.com/park285/cheese-chess-server/pkg/chessdto"
	"go.uber.org/zap"
)

const (
	White = "white"
	Black = "black"
)

// Broadcaster is the realtime transport as seen by a session.
type Broadcaster interface {
	Broadcast(roomID string, ev chessdto.Event)
	Send(connID string, ev chessdto.Event)
	Subscribe(connID, roomID string)
	Unsubscribe(connID, roomID string)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Store store.Store
	Rules rules.Validator
	Out   Broadcaster
}

// Config holds engine constants.
type Config struct {
	Grace          time.Duration
	DefaultRating  int
	MaxRooms       int
	SettleAttempts int
	// WaitingTTL removes a waiting invite that has had no connection bound
	// for this long.
	WaitingTTL time.Duration
	// TimerRetry is the delay before a timer-driven settlement is retried
	// after a persistence failure.
	TimerRetry time.Duration
	Now        func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Grace <= 0 {
		c.Grace = 15 * time.Second
	}
	if c.DefaultRating <= 0 {
		c.DefaultRating = 1200
	}
	if c.WaitingTTL <= 0 {
		c.WaitingTTL = 10 * time.Minute
	}
	if c.SettleAttempts <= 0 {
		c.SettleAttempts = 4
	}
	if c.TimerRetry <= 0 {
		c.TimerRetry = time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Player identifies one side at creation time.
type Player struct {
	UserID string
	Name   string
	ConnID string
}

// CreateParams describe a new room.
type CreateParams struct {
	RoomID         string
	White          Player
	Black          *Player // nil for a direct invite awaiting its second player
	Control        timectl.Control
	InvitationType string
}

func (p CreateParams) connIDs() []string {
	var out []string
	if p.White.ConnID != "" {
		out = append(out, p.White.ConnID)
	}
	if p.Black != nil && p.Black.ConnID != "" {
		out = append(out, p.Black.ConnID)
	}
	return out
}

type seat struct {
	UserID string
	Name   string
	ConnID string
}

// View is an immutable committed snapshot of a session.
type View struct {
	Record    *store.GameRecord
	WhiteName string
	BlackName string
	WhiteConn string
	BlackConn string
}

// Session is the authoritative engine for one room.
type Session struct {
	id   string
	reg  *Registry
	deps Deps
	cfg  Config
	log  *zap.Logger

	inbox   chan func()
	quit    chan struct{}
	stopped chan struct{}
	exitErr error // written by the actor before stopped closes
	torn    bool

	// owned by the actor goroutine
	rec     *store.GameRecord
	history []string
	white   seat
	black   seat
	grace   map[string]*graceTimer
	flag    *time.Timer
	expiry  *graceTimer
	gen     uint64

	view atomic.Pointer[View]
}

type graceTimer struct {
	gen   uint64
	timer *time.Timer
}

func newSession(reg *Registry, roomID string) *Session {
	return &Session{
		id:      roomID,
		reg:     reg,
		deps:    reg.deps,
		cfg:     reg.cfg,
		log:     obslog.Room(roomID),
		inbox:   make(chan func()),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		grace:   make(map[string]*graceTimer),
	}
}

// RoomID returns the room identifier.
func (s *Session) RoomID() string { return s.id }

// Snapshot returns the last committed state. It never blocks on the actor.
func (s *Session) Snapshot() View {
	if v := s.view.Load(); v != nil {
		out := *v
		out.Record = v.Record.Clone()
		return out
	}
	return View{}
}

// Done is closed once the actor has exited.
func (s *Session) Done() <-chan struct{} { return s.stopped }

func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case fn := <-s.inbox:
			fn()
			if s.exitErr != nil {
				s.teardown()
				return
			}
		case <-s.quit:
			s.exitErr = ErrClosed
			s.teardown()
			return
		}
	}
}

// exec runs fn on the actor and waits for its result.
func (s *Session) exec(ctx context.Context, fn func(context.Context) error) error {
	errc := make(chan error, 1)
	job := func() {
		err := fn(ctx)
		if s.exitErr != nil {
			// deregister before the caller sees the result
			s.teardown()
		}
		errc <- err
	}
	select {
	case s.inbox <- job:
	case <-s.stopped:
		return s.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-errc
}

// post enqueues fn without waiting; used by timers.
func (s *Session) post(fn func()) {
	select {
	case s.inbox <- fn:
	case <-s.stopped:
	}
}

func (s *Session) stop() {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
}

func (s *Session) teardown() {
	if s.torn {
		return
	}
	s.torn = true
	s.stopFlag()
	s.stopExpiry()
	for side := range s.grace {
		s.clearGrace(side)
	}
	for _, st := range []*seat{&s.white, &s.black} {
		if st.ConnID != "" {
			s.reg.unbind(st.ConnID, s.id)
		}
	}
	s.reg.remove(s.id, s)
}

// commit installs rec as the authoritative state and publishes a snapshot.
func (s *Session) commit(rec *store.GameRecord) {
	s.rec = rec
	s.view.Store(&View{
		Record:    rec.Clone(),
		WhiteName: s.white.Name,
		BlackName: s.black.Name,
		WhiteConn: s.white.ConnID,
		BlackConn: s.black.ConnID,
	})
}

func (s *Session) republish() {
	if s.rec != nil {
		s.commit(s.rec)
	}
}

func (s *Session) seat(side string) *seat {
	if side == White {
		return &s.white
	}
	return &s.black
}

func (s *Session) sideOfConn(connID string) string {
	switch {
	case connID == "":
		return ""
	case s.white.ConnID == connID:
		return White
	case s.black.ConnID == connID:
		return Black
	}
	return ""
}

func (s *Session) sideOfUser(userID string) string {
	userID = strings.TrimSpace(userID)
	switch {
	case userID == "":
		return ""
	case s.white.UserID == userID:
		return White
	case s.black.UserID == userID:
		return Black
	}
	return ""
}

func opponent(side string) string {
	if side == White {
		return Black
	}
	return White
}

// bindConn attaches connID to side, releasing any previous connection. A
// connection seated in another live room is refused and nothing changes.
func (s *Session) bindConn(side, connID string) error {
	if connID != "" {
		if err := s.reg.bind(connID, s.id); err != nil {
			return err
		}
	}
	st := s.seat(side)
	if st.ConnID != "" && st.ConnID != connID {
		s.reg.unbind(st.ConnID, s.id)
		s.out().Unsubscribe(st.ConnID, s.id)
	}
	st.ConnID = connID
	if connID == "" {
		return nil
	}
	s.stopExpiry()
	s.out().Subscribe(connID, s.id)
	return nil
}

func (s *Session) out() Broadcaster {
	if s.deps.Out == nil {
		return nopBroadcaster{}
	}
	return s.deps.Out
}

// ratingFor snapshots a user's rating, creating the user with the default
// rating on first sight.
func (s *Session) ratingFor(ctx context.Context, userID, name string) (int, string) {
	u, err := s.deps.Store.FindUser(ctx, userID)
	if err == nil {
		if strings.TrimSpace(name) == "" {
			name = u.Name
		}
		if u.Rating > 0 {
			return u.Rating, name
		}
		return s.cfg.DefaultRating, name
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		s.log.Warn("session_rating_lookup_error", zap.String("user_id", userID), zap.Error(err))
		return s.cfg.DefaultRating, name
	}
	if serr := s.deps.Store.SaveUser(ctx, &store.User{ID: userID, Name: name, Rating: s.cfg.DefaultRating}); serr != nil {
		s.log.Warn("session_user_seed_error", zap.String("user_id", userID), zap.Error(serr))
	}
	return s.cfg.DefaultRating, name
}

func (s *Session) nowMs() int64 { return s.cfg.Now().UnixMilli() }

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, chessdto.Event) {}
func (nopBroadcaster) Send(string, chessdto.Event)      {}
func (nopBroadcaster) Subscribe(string, string)         {}
func (nopBroadcaster) Unsubscribe(string, string)       {}
