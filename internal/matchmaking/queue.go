// Package matchmaking holds players waiting for an opponent and pairs them by
// time control.
package matchmaking

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidArgs   = errors.New("invalid arguments")
	ErrAlreadyQueued = errors.New("user already waiting on another connection")
)

// Entry is one waiting player.
type Entry struct {
	UserID      string
	ConnID      string
	TimeControl string
	EnqueuedAt  time.Time
}

// Pairing is two entries removed from the queue together. White is the
// earlier arrival.
type Pairing struct {
	White       Entry
	Black       Entry
	TimeControl string
}

// Queue is a FIFO waiting list. All operations are atomic.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

func New() *Queue { return &Queue{now: time.Now} }

// NewWithClock is used by tests that need deterministic EnqueuedAt values.
func NewWithClock(now func() time.Time) *Queue { return &Queue{now: now} }

// Enqueue adds the connection to the queue, or pairs it with the first
// compatible waiting entry. A connection that is already waiting is
// re-enqueued with its new parameters at the back of the queue.
func (q *Queue) Enqueue(connID, userID, timeControl string) (*Pairing, error) {
	connID, userID, timeControl = strings.TrimSpace(connID), strings.TrimSpace(userID), strings.TrimSpace(timeControl)
	if connID == "" || userID == "" || timeControl == "" {
		return nil, ErrInvalidArgs
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.removeLocked(connID)
	for _, e := range q.entries {
		if e.UserID == userID {
			return nil, ErrAlreadyQueued
		}
	}

	me := Entry{UserID: userID, ConnID: connID, TimeControl: timeControl, EnqueuedAt: q.now()}
	for i, e := range q.entries {
		if e.TimeControl != timeControl {
			continue
		}
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		return &Pairing{White: e, Black: me, TimeControl: timeControl}, nil
	}
	q.entries = append(q.entries, me)
	return nil, nil
}

// Dequeue removes the connection's entry. It reports false when the
// connection was not waiting (already paired or never queued).
func (q *Queue) Dequeue(connID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(strings.TrimSpace(connID))
}

// Waiting reports whether the connection currently holds an entry.
func (q *Queue) Waiting(connID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.ConnID == connID {
			return true
		}
	}
	return false
}

// Len is the number of waiting entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot returns a copy of the waiting entries in arrival order.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.entries...)
}

// Reset drops every entry; used on shutdown.
func (q *Queue) Reset() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.entries
	q.entries = nil
	return out
}

func (q *Queue) removeLocked(connID string) bool {
	for i, e := range q.entries {
		if e.ConnID == connID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}
