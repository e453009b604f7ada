package chat

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"ykchat/internal/app/storage"
	"ykchat/internal/app/syncstore"
	"ykchat/internal/pkg/logx"
)

// ErrManagerClosed is returned by NewSession after Shutdown.
var ErrManagerClosed = errors.New("chat: manager shut down")

// Manager hands out sessions wired to the shared store and blob store and
// keeps track of them until they close.
type Manager struct {
	store syncstore.Store
	blobs storage.BlobStore
	opts  []Option

	// mu protects sessions and closed.
	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	logger zerolog.Logger
}

// NewManager constructs a Manager. opts apply to every session it creates.
func NewManager(store syncstore.Store, blobs storage.BlobStore, opts ...Option) *Manager {
	return &Manager{
		store:    store,
		blobs:    blobs,
		opts:     opts,
		sessions: make(map[string]*Session),
		logger:   logx.Component("chat.manager"),
	}
}

// NewSession creates and tracks an unsubscribed session.
func (m *Manager) NewSession() (*Session, error) {
	s := NewSession(m.store, m.blobs, m.opts...)
	s.onClose = m.untrack

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	m.sessions[s.ID] = s

	m.logger.Debug().Str("session_id", s.ID).Int("active", len(m.sessions)).Msg("Session opened.")
	return s, nil
}

// lookup returns the live session with id, or nil.
func (m *Manager) lookup(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.sessions[id]
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.sessions)
}

func (m *Manager) untrack(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		delete(m.sessions, s.ID)
		m.logger.Debug().Str("session_id", s.ID).Int("active", len(m.sessions)).Msg("Session removed.")
	}
}

// Shutdown closes every live session and rejects new ones.
func (m *Manager) Shutdown() {
	m.logger.Info().Msg("Shutting down chat sessions...")

	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	m.logger.Info().Int("closed", len(sessions)).Msg("Chat manager shutdown complete.")
}
