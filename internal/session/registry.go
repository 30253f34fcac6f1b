package session

import (
	"context"
	"strings"
	"sync"

	"github.com/park285/cheese-chess-server/internal/obslog"
	"go.uber.org/zap"
)

// Registry owns every live session and the connection index. It is created
// at server start and closed at shutdown.
type Registry struct {
	deps Deps
	cfg  Config

	mu     sync.RWMutex
	rooms  map[string]*Session
	conns  map[string]string // connID -> roomID
	closed bool
}

func NewRegistry(deps Deps, cfg Config) *Registry {
	return &Registry{
		deps:  deps,
		cfg:   cfg.withDefaults(),
		rooms: make(map[string]*Session),
		conns: make(map[string]string),
	}
}

// Create registers and opens a session. The room id is reserved before any
// I/O so two callers can never create the same room.
func (r *Registry) Create(ctx context.Context, p CreateParams) (*Session, error) {
	p.RoomID = strings.TrimSpace(p.RoomID)
	if p.RoomID == "" || strings.TrimSpace(p.White.UserID) == "" {
		return nil, ErrNotAPlayer
	}
	if p.Black != nil && p.Black.UserID == p.White.UserID {
		return nil, ErrNotAPlayer
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := r.rooms[p.RoomID]; exists {
		r.mu.Unlock()
		return nil, ErrRoomExists
	}
	for _, connID := range p.connIDs() {
		if other, ok := r.conns[connID]; ok && r.rooms[other] != nil {
			r.mu.Unlock()
			return nil, &ConnBoundError{RoomID: other}
		}
	}
	if r.cfg.MaxRooms > 0 && len(r.rooms) >= r.cfg.MaxRooms {
		r.mu.Unlock()
		return nil, ErrCapacity
	}
	s := newSession(r, p.RoomID)
	r.rooms[p.RoomID] = s
	r.mu.Unlock()

	if err := s.open(ctx, p); err != nil {
		s.exitErr = ErrRoomNotFound
		s.teardown()
		close(s.stopped)
		obslog.L().Warn("session_open_failed", zap.String("room_id", p.RoomID), zap.Error(err))
		return nil, err
	}
	go s.run()
	return s, nil
}

// GetByRoom returns the live session for roomID.
func (r *Registry) GetByRoom(roomID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.rooms[strings.TrimSpace(roomID)]
	return s, ok
}

// GetByConnection resolves a connection to at most one live session.
func (r *Registry) GetByConnection(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	s, ok := r.rooms[roomID]
	return s, ok
}

// Remove stops and forgets a session without settling it.
func (r *Registry) Remove(roomID string) {
	r.mu.Lock()
	s, ok := r.rooms[roomID]
	r.mu.Unlock()
	if ok {
		s.stop()
		<-s.stopped
	}
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Close stops every actor. In-progress games stay persisted as ongoing.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	list := make([]*Session, 0, len(r.rooms))
	for _, s := range r.rooms {
		list = append(list, s)
	}
	r.mu.Unlock()

	for _, s := range list {
		s.stop()
	}
	for _, s := range list {
		select {
		case <-s.stopped:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Registry) remove(roomID string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.rooms[roomID]; ok && cur == s {
		delete(r.rooms, roomID)
	}
}

// bind indexes connID under roomID. A connection resolves to at most one
// live room, so binding one that belongs to another live room fails.
func (r *Registry) bind(connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if other, ok := r.conns[connID]; ok && other != roomID && r.rooms[other] != nil {
		return &ConnBoundError{RoomID: other}
	}
	r.conns[connID] = roomID
	return nil
}

// boundElsewhere reports the other live room holding connID, if any.
func (r *Registry) boundElsewhere(connID, roomID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	other, ok := r.conns[connID]
	if !ok || other == roomID || r.rooms[other] == nil {
		return "", false
	}
	return other, true
}

func (r *Registry) unbind(connID, roomID string) {
	r.mu.Lock()
	if r.conns[connID] == roomID {
		delete(r.conns, connID)
	}
	r.mu.Unlock()
}
