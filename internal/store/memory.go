package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store used when no external backend is configured.
type Memory struct {
	mu sync.RWMutex

	games       map[string]*GameRecord
	gamesByUser map[string]map[string]struct{} // userID -> roomIDs
	users       map[string]*User

	// set by FailWrites
	failN   int
	failErr error
}

func NewMemory() *Memory {
	return &Memory{
		games:       make(map[string]*GameRecord),
		gamesByUser: make(map[string]map[string]struct{}),
		users:       make(map[string]*User),
	}
}

// FailWrites makes the next n writes return err.
func (m *Memory) FailWrites(n int, err error) {
	m.mu.Lock()
	m.failN, m.failErr = n, err
	m.mu.Unlock()
}

func (m *Memory) injected() error {
	if m.failN > 0 {
		m.failN--
		return m.failErr
	}
	return nil
}

func (m *Memory) CreateGame(ctx context.Context, g *GameRecord) error {
	if g == nil || strings.TrimSpace(g.RoomID) == "" {
		return ErrGameNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	if _, exists := m.games[g.RoomID]; exists {
		return ErrRoomExists
	}
	m.games[g.RoomID] = g.Clone()
	m.index(g)
	return nil
}

func (m *Memory) FindGame(ctx context.Context, roomID string) (*GameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[strings.TrimSpace(roomID)]
	if !ok {
		return nil, ErrGameNotFound
	}
	return g.Clone(), nil
}

func (m *Memory) UpdateGame(ctx context.Context, g *GameRecord) error {
	if g == nil {
		return ErrGameNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	if _, ok := m.games[g.RoomID]; !ok {
		return ErrGameNotFound
	}
	m.games[g.RoomID] = g.Clone()
	m.index(g)
	return nil
}

func (m *Memory) DeleteGame(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	g, ok := m.games[roomID]
	if !ok {
		return ErrGameNotFound
	}
	delete(m.games, roomID)
	for _, uid := range []string{g.WhitePlayerID, g.BlackPlayerID} {
		if set := m.gamesByUser[uid]; set != nil {
			delete(set, roomID)
		}
	}
	return nil
}

func (m *Memory) GamesByUser(ctx context.Context, userID string, finishedOnly bool) ([]*GameRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*GameRecord{}
	for roomID := range m.gamesByUser[strings.TrimSpace(userID)] {
		g := m.games[roomID]
		if g == nil || (finishedOnly && g.IsOngoing) {
			continue
		}
		out = append(out, g.Clone())
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *Memory) FindUser(ctx context.Context, userID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[strings.TrimSpace(userID)]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (m *Memory) SaveUser(ctx context.Context, u *User) error {
	if u == nil || strings.TrimSpace(u.ID) == "" {
		return ErrUserNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	c := *u
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	m.users[c.ID] = &c
	return nil
}

func (m *Memory) Settle(ctx context.Context, s Settlement) error {
	if err := validSettlement(s); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	cur, ok := m.games[s.Game.RoomID]
	if !ok {
		return ErrGameNotFound
	}
	if !cur.IsOngoing {
		return ErrAlreadyFinished
	}
	m.games[s.Game.RoomID] = s.Game.Clone()
	now := time.Now()
	m.setRating(s.Game.WhitePlayerID, s.WhiteRating, now)
	m.setRating(s.Game.BlackPlayerID, s.BlackRating, now)
	return nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) setRating(userID string, rating int, now time.Time) {
	if userID == "" {
		return
	}
	u, ok := m.users[userID]
	if !ok {
		u = &User{ID: userID}
		m.users[userID] = u
	}
	u.Rating = rating
	u.UpdatedAt = now
}

func (m *Memory) index(g *GameRecord) {
	for _, uid := range []string{g.WhitePlayerID, g.BlackPlayerID} {
		if uid == "" {
			continue
		}
		set := m.gamesByUser[uid]
		if set == nil {
			set = make(map[string]struct{})
			m.gamesByUser[uid] = set
		}
		set[g.RoomID] = struct{}{}
	}
}
