package manager

import "inferd/internal/session"

// Unload drains and closes the session for id. Unloading a model with no
// live session is not an error.
func (m *Manager) Unload(id string) error {
	entry, err := m.resolve(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	s, ok := m.sessions[entry.ID]
	if ok {
		delete(m.sessions, entry.ID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	m.publisher.Publish(Event{Name: "unload_start", ModelID: entry.ID})
	if err := s.Unload(m.drainTimeout); err != nil {
		m.setLastError(err)
		m.publisher.Publish(Event{Name: "unload_error", ModelID: entry.ID, Fields: map[string]any{"error": err.Error()}})
		return err
	}
	m.publisher.Publish(Event{Name: "unload_done", ModelID: entry.ID})
	return nil
}

// UnloadAll drains and closes every live session; used at shutdown. The
// first error is returned but every session is attempted.
func (m *Manager) UnloadAll() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*session.Session)
	m.mu.Unlock()

	var first error
	for id, s := range sessions {
		if err := s.Unload(m.drainTimeout); err != nil && first == nil {
			first = err
			m.log.Warn().Err(err).Str("model", id).Msg("unload failed during shutdown")
		}
	}
	return first
}
