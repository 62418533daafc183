package match

import (
	"sync"

	"github.com/ishimwesarah/Multiplayer-appBE/internal/errors"
)

// Entry is one waiting player in the matchmaking queue.
type Entry struct {
	ConnID   string
	UserID   int64
	UserName string
}

// Queue is a strict-FIFO matchmaking queue. An identity appears at most once;
// whenever two players are waiting, the two oldest are paired off.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
}

func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue adds a waiting player. When this brings the queue to two, the two
// longest-waiting entries are removed and returned as a pair; otherwise pair
// is nil and size reports how many remain waiting.
func (q *Queue) Enqueue(e Entry) (pair *[2]Entry, size int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, waiting := range q.entries {
		if waiting.UserID == e.UserID {
			return nil, len(q.entries), errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("Already in matchmaking queue"))
		}
	}

	q.entries = append(q.entries, e)

	if len(q.entries) >= 2 {
		p := [2]Entry{q.entries[0], q.entries[1]}
		q.entries = append(q.entries[:0], q.entries[2:]...)
		return &p, len(q.entries), nil
	}

	return nil, len(q.entries), nil
}

// Dequeue removes the entry bound to a connection. Removing an absent
// connection is a no-op.
func (q *Queue) Dequeue(connID string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.ConnID == connID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e, true
		}
	}

	return Entry{}, false
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}
