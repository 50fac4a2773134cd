package simulation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Factory builds a fresh Session for a student.
type Factory func(userID string) *Session

// SessionKey scopes sessions per student and per browser tab.
func SessionKey(userID, tabID string) string {
	return userID + ":" + tabID
}

// Manager is the in-memory registry of live sessions. Sessions share no
// state; the registry only maps keys to them.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	factory  Factory
	logger   *slog.Logger
}

// NewManager creates an empty registry.
func NewManager(factory Factory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		factory:  factory,
		logger:   logger,
	}
}

// Session returns the session for userID/tabID, creating it on first use.
func (m *Manager) Session(userID, tabID string) *Session {
	key := SessionKey(userID, tabID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s
	}
	s := m.factory(userID)
	m.sessions[key] = s
	return s
}

// Lookup returns an existing session without creating one.
func (m *Manager) Lookup(userID, tabID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[SessionKey(userID, tabID)]
	return s, ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// EvictIdle closes and removes sessions whose last student action is older
// than ttl. It returns the evicted keys.
func (m *Manager) EvictIdle(now time.Time, ttl time.Duration) []string {
	m.mu.Lock()
	var (
		keys    []string
		expired []*Session
	)
	for key, s := range m.sessions {
		if now.Sub(s.LastActive()) > ttl {
			keys = append(keys, key)
			expired = append(expired, s)
			delete(m.sessions, key)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	return keys
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for key, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

const defaultSweepInterval = time.Minute

// RunSweeper evicts idle sessions on every tick until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, ttl, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.logger.Info("Idle sweeper started", "interval", interval, "ttl", ttl)

	for {
		select {
		case now := <-ticker.C:
			if evicted := m.EvictIdle(now, ttl); len(evicted) > 0 {
				m.logger.Info("Idle sweeper evicted sessions", "count", len(evicted), "remaining", m.Len())
			}
		case <-ctx.Done():
			m.logger.Info("Idle sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}
