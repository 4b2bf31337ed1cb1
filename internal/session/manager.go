// Package session maps browser sessions to their analysis state.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"imagereader/internal/analysis"
	"imagereader/internal/logger"
)

type entry struct {
	state    *analysis.State
	lastSeen time.Time
}

// Manager 持有每个会话的 State，空闲超过 ttl 的会话会被 Sweep 回收。
type Manager struct {
	mu       sync.Mutex
	ttl      time.Duration
	limit    int // 0 表示不限制
	now      func() time.Time
	sessions map[string]*entry
	onChange func(active int)
}

func NewManager(ttl time.Duration) *Manager {
	return &Manager{ttl: ttl, now: time.Now, sessions: make(map[string]*entry)}
}

// OnChange registers a callback fed with the live session count.
func (m *Manager) OnChange(fn func(active int)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// SetLimit caps the number of live sessions. Creating one past the cap evicts
// the least recently seen session.
func (m *Manager) SetLimit(n int) {
	if n < 0 {
		n = 0
	}
	m.mu.Lock()
	m.limit = n
	m.mu.Unlock()
}

// Get returns the state for id and refreshes its idle timer.
func (m *Manager) Get(id string) (*analysis.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = m.now()
	return e.state, true
}

// Ensure returns the session for id, creating a fresh one with a new id when
// id is unknown or malformed.
func (m *Manager) Ensure(id string) (string, *analysis.State) {
	m.mu.Lock()
	id = strings.TrimSpace(id)
	if e, ok := m.sessions[id]; ok && id != "" {
		e.lastSeen = m.now()
		m.mu.Unlock()
		return id, e.state
	}
	if m.limit > 0 {
		for len(m.sessions) >= m.limit {
			m.evictOldestLocked()
		}
	}
	id = uuid.NewString()
	st := analysis.NewState()
	m.sessions[id] = &entry{state: st, lastSeen: m.now()}
	active, fn := len(m.sessions), m.onChange
	m.mu.Unlock()
	if fn != nil {
		fn(active)
	}
	return id, st
}

func (m *Manager) evictOldestLocked() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, e := range m.sessions {
		if oldestID == "" || e.lastSeen.Before(oldest) {
			oldestID, oldest = id, e.lastSeen
		}
	}
	if oldestID != "" {
		delete(m.sessions, oldestID)
		logger.Debugf("session limit %d reached, evicted the least recently seen", m.limit)
	}
}

// Sweep drops sessions idle since before now-ttl and returns how many went.
func (m *Manager) Sweep(now time.Time) int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-m.ttl)
	m.mu.Lock()
	removed := 0
	for id, e := range m.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	active, fn := len(m.sessions), m.onChange
	m.mu.Unlock()
	if removed > 0 {
		logger.Debugf("session sweep removed %d idle sessions, %d active", removed, active)
		if fn != nil {
			fn(active)
		}
	}
	return removed
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
