package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"kanade/internal/domain"
	"kanade/internal/metrics"
)

// DefaultCapacity is the history bound used when config does not override it.
const DefaultCapacity = 10

// Store is the registry of all live sessions plus their durable backing
// directory. It is safe for concurrent use; mutations to a single session's
// history are additionally serialized by that session's own lock.
type Store struct {
	dir      string
	capacity int
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[domain.SessionKey]*Session

	appends   *metrics.Counter
	merges    *metrics.Counter
	evictions *metrics.Counter
}

// NewStore creates a store backed by dir, creating the directory if needed.
// capacity is the per-session history bound for newly created sessions.
func NewStore(dir string, capacity int, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions directory %s: %w", dir, err)
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:       dir,
		capacity:  capacity,
		logger:    logger,
		sessions:  make(map[domain.SessionKey]*Session),
		appends:   metrics.Default.Counter("session_appends_total", "Messages appended to session histories"),
		merges:    metrics.Default.Counter("session_merges_total", "Appends coalesced into the previous entry"),
		evictions: metrics.Default.Counter("session_evictions_total", "Oldest entries dropped to stay within capacity"),
	}, nil
}

// LoadAll scans the sessions directory and loads every readable record.
// Unreadable or malformed files are logged and skipped: a broken record means
// that conversation restarts empty, never that the process fails.
func (st *Store) LoadAll() {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		st.logger.Error("cannot scan sessions directory", "dir", st.dir, "err", err)
		return
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(st.dir, entry.Name())
		sess, err := st.loadFile(path)
		if err != nil {
			st.logger.Warn("skipping unreadable session file", "path", path, "err", err)
			continue
		}
		st.mu.Lock()
		st.sessions[sess.key] = sess
		st.mu.Unlock()
		loaded++
	}
	st.logger.Info("sessions loaded", "count", loaded, "dir", st.dir)
}

func (st *Store) loadFile(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, selfID, capacity, messages, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	sess := newSession(key, selfID, capacity)
	if len(messages) > sess.capacity {
		// A record written under a larger bound: keep the newest entries.
		messages = messages[len(messages)-sess.capacity:]
	}
	sess.messages = messages
	return sess, nil
}

// GetOrCreate returns the session for key, loading it from disk if a record
// exists, or creating it empty. Never fails for a valid key; a corrupt
// record on disk is logged and replaced by an empty session.
func (st *Store) GetOrCreate(key domain.SessionKey, selfID int64) *Session {
	st.mu.RLock()
	sess, ok := st.sessions[key]
	st.mu.RUnlock()
	if ok {
		return sess
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if sess, ok := st.sessions[key]; ok {
		return sess
	}

	path := st.path(key)
	if _, err := os.Stat(path); err == nil {
		if sess, err := st.loadFile(path); err == nil {
			sess.selfID = selfID
			st.sessions[key] = sess
			return sess
		} else {
			st.logger.Warn("corrupt session record, starting empty", "path", path, "err", err)
		}
	}

	sess = newSession(key, selfID, st.capacity)
	st.sessions[key] = sess
	st.logger.Debug("created session", "session", key.String())
	return sess
}

// Get returns the session for key if it is already in memory.
func (st *Store) Get(key domain.SessionKey) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[key]
	return sess, ok
}

// Keys lists the keys of all sessions currently in memory.
func (st *Store) Keys() []domain.SessionKey {
	st.mu.RLock()
	defer st.mu.RUnlock()
	keys := make([]domain.SessionKey, 0, len(st.sessions))
	for key := range st.sessions {
		keys = append(keys, key)
	}
	return keys
}

// Append applies the merge-or-evict-then-append rule and persists the full
// updated session. The session lock is held across the disk write so that
// concurrent appends to one session cannot interleave their snapshots.
func (st *Store) Append(sess *Session, msg domain.ChatMessage) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	res := sess.appendLocked(msg)
	st.appends.Inc()
	switch {
	case res.merged:
		st.merges.Inc()
		st.logger.Debug("merged message into previous entry", "session", sess.key.String(), "sender", msg.SenderID)
	case res.evicted:
		st.evictions.Inc()
		st.logger.Debug("evicted oldest entry", "session", sess.key.String())
	}

	st.saveLocked(sess)
}

// Clear empties the session history and persists the empty state.
func (st *Store) Clear(sess *Session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.messages = nil
	st.saveLocked(sess)
	st.logger.Info("session history cleared", "session", sess.key.String())
}

// Delete removes the session from memory and disk. Deleting an absent
// session is a logged no-op.
func (st *Store) Delete(key domain.SessionKey) {
	st.mu.Lock()
	_, existed := st.sessions[key]
	delete(st.sessions, key)
	st.mu.Unlock()

	err := os.Remove(st.path(key))
	switch {
	case err == nil:
		st.logger.Info("session deleted", "session", key.String())
	case os.IsNotExist(err):
		if !existed {
			st.logger.Debug("delete of unknown session ignored", "session", key.String())
		}
	default:
		st.logger.Error("cannot remove session file", "session", key.String(), "err", err)
	}
}

// saveLocked writes the full session snapshot. Caller holds sess.mu.
// A failed write is logged but not retried: memory stays authoritative and
// the next mutation writes the whole state again anyway.
func (st *Store) saveLocked(sess *Session) {
	data, err := encodeRecord(sess.key, sess.selfID, sess.capacity, sess.messages)
	if err != nil {
		st.logger.Error("cannot encode session record", "session", sess.key.String(), "err", err)
		return
	}
	if err := os.WriteFile(st.path(sess.key), data, 0o644); err != nil {
		st.logger.Error("cannot persist session", "session", sess.key.String(), "err", err)
	}
}

func (st *Store) path(key domain.SessionKey) string {
	return filepath.Join(st.dir, key.String()+".json")
}
