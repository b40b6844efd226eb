package editor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"scribe/api/internal/autosave"
)

// Manager keeps at most one open session per draft.
type Manager struct {
	deps Deps
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Deps, opts Options) *Manager {
	return &Manager{deps: deps, opts: opts, sessions: make(map[string]*Session)}
}

// Open returns the existing session for draftID or opens a new one.
func (m *Manager) Open(ctx context.Context, draftID string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[draftID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s, err := Open(ctx, draftID, m.deps, m.opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[draftID]; ok {
		// Lost a race with another Open for the same draft.
		s.Close()
		return existing, nil
	}
	m.sessions[draftID] = s
	return s, nil
}

func (m *Manager) Get(draftID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[draftID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) Close(draftID string) error {
	m.mu.Lock()
	s, ok := m.sessions[draftID]
	delete(m.sessions, draftID)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// SaveAll lets in-flight saves finish, then saves every session that still
// has unsaved edits. It returns the first error but tries every session.
func (m *Manager) SaveAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var first error
	for _, s := range sessions {
		if err := s.Wait(ctx); err != nil {
			return err
		}
		if s.SaveStatus().State != autosave.StateDirty {
			continue
		}
		if _, err := s.Save(ctx); err != nil && first == nil {
			first = fmt.Errorf("save %s: %w", s.DraftID(), err)
		}
	}
	return first
}

// CloseAll closes every session and waits for in-flight saves until ctx ends.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	for _, s := range sessions {
		if err := s.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Open draft ids, sorted.
func (m *Manager) DraftIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
