// Package sessions keeps a bounded hot cache of session metadata over the
// store. Eviction only drops cache entries; rows stay in sqlite.
package sessions

import (
	"container/list"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/mingle/internal/store"
)

const defaultMaxSessions = 100

// Manager is an LRU cache of sessions keyed by session ID.
type Manager struct {
	store *store.Store

	mu    sync.Mutex
	max   int
	order *list.List               // front = MRU
	index map[string]*list.Element // session ID → element holding *store.Session
}

func NewManager(st *store.Store, maxSessions int) *Manager {
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	return &Manager{
		store: st,
		max:   maxSessions,
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// GetOrCreate returns the session with the given ID, loading it from the
// store or creating it when absent, and marks it most recently used.
func (m *Manager) GetOrCreate(id, typ string, targetID int64) (*store.Session, error) {
	m.mu.Lock()
	if el, ok := m.index[id]; ok {
		m.order.MoveToFront(el)
		sess := el.Value.(*store.Session)
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	// Store round-trip outside the lock; racing callers both hit the
	// store but converge on one cache entry below.
	sess, err := m.store.GetSession(id)
	if err != nil {
		return nil, fmt.Errorf("sessions: load %s: %w", id, err)
	}
	if sess == nil {
		sess, err = m.store.CreateSession(id, typ, targetID)
		if err != nil {
			return nil, err
		}
		slog.Debug("session created", "session", id, "type", typ)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.index[id]; ok {
		m.order.MoveToFront(el)
		return el.Value.(*store.Session), nil
	}
	m.index[id] = m.order.PushFront(sess)
	m.evictLocked()
	return sess, nil
}

// Touch refreshes updated_at and moves the session to MRU.
func (m *Manager) Touch(id string) error {
	m.mu.Lock()
	if el, ok := m.index[id]; ok {
		m.order.MoveToFront(el)
	}
	m.mu.Unlock()
	return m.store.TouchSession(id)
}

// Reset deletes the session's messages and clears its compressed context.
// The cache entry and the session row both survive.
func (m *Manager) Reset(id string) error {
	return m.store.ResetSession(id)
}

// Len returns the number of cached sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// Cached reports whether a session is currently in the hot cache.
func (m *Manager) Cached(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.index[id]
	return ok
}

func (m *Manager) evictLocked() {
	for m.order.Len() > m.max {
		el := m.order.Back()
		if el == nil {
			return
		}
		sess := el.Value.(*store.Session)
		m.order.Remove(el)
		delete(m.index, sess.ID)
		slog.Debug("session evicted from cache", "session", sess.ID)
	}
}
