// Package session owns the bounded, durable per-conversation message history.
// Each session keeps at most its capacity of entries; consecutive messages
// from the same sender inside the merge window collapse into one entry, and
// when the window is full the oldest entry is evicted. Every mutation is
// written through to a JSON file per session.
package session

import (
	"sync"

	"kanade/internal/domain"
)

// Session is the in-memory state of one conversation. All access to messages
// goes through the Store, which serializes mutations per session via mu: the
// ingestion path and the scheduler's reply recording run on different
// goroutines and must not interleave inside an append.
type Session struct {
	key      domain.SessionKey
	selfID   int64
	capacity int

	mu       sync.Mutex
	messages []domain.ChatMessage
}

func newSession(key domain.SessionKey, selfID int64, capacity int) *Session {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Session{key: key, selfID: selfID, capacity: capacity}
}

func (s *Session) Key() domain.SessionKey { return s.key }
func (s *Session) SelfID() int64          { return s.selfID }
func (s *Session) Capacity() int          { return s.capacity }

// Messages returns a copy of the current history, oldest first.
func (s *Session) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the current number of history entries.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// appendResult reports what an append did, for logging and metrics.
type appendResult struct {
	merged  bool
	evicted bool
}

// appendLocked applies the merge-or-evict-then-append rule. Caller holds mu.
//
// Merge is checked only against the immediately preceding entry; there is no
// multi-entry coalescing.
func (s *Session) appendLocked(msg domain.ChatMessage) appendResult {
	if n := len(s.messages); n > 0 && s.messages[n-1].Mergeable(msg) {
		s.messages[n-1].Segments = append(s.messages[n-1].Segments, msg.Segments...)
		return appendResult{merged: true}
	}

	var res appendResult
	if len(s.messages) >= s.capacity {
		copy(s.messages, s.messages[1:])
		s.messages = s.messages[:len(s.messages)-1]
		res.evicted = true
	}
	s.messages = append(s.messages, msg)
	return res
}
