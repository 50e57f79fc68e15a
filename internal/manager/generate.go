package manager

import (
	"context"

	"inferd/internal/runtime"
	"inferd/internal/session"
	"inferd/pkg/types"
)

// EnsureSession returns the live session for id, creating one if needed.
// Creation acquires the asset first (no progress surfaced here; the acquire
// endpoint is the place to watch downloads) and is idempotent under
// concurrency: at most one session exists per model id.
func (m *Manager) EnsureSession(ctx context.Context, id string) (*session.Session, error) {
	entry, err := m.resolve(id)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	s, ok := m.sessions[entry.ID]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	m.ensureMu.Lock()
	defer m.ensureMu.Unlock()
	m.mu.RLock()
	s, ok = m.sessions[entry.ID]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	res, err := m.Acquire(ctx, entry.ID, nil, nil)
	if err != nil {
		return nil, err
	}
	src := runtime.Source{EntryID: entry.ID, Data: res.Buffer, URL: entry.URL}
	s, err = session.New(m.factory, src, entry, m.initOpts, m.log)
	if err != nil {
		m.setLastError(err)
		m.publisher.Publish(Event{Name: "session_error", ModelID: entry.ID, Fields: map[string]any{"error": err.Error()}})
		return nil, err
	}
	m.mu.Lock()
	m.sessions[entry.ID] = s
	m.mu.Unlock()
	m.publisher.Publish(Event{Name: "session_ready", ModelID: entry.ID, Fields: map[string]any{"session": s.ID()}})
	return s, nil
}

// Generate runs a single-shot completion on the session for id.
func (m *Manager) Generate(ctx context.Context, id, prompt string, opts types.GenerationOptions) (types.GenerationResult, error) {
	s, err := m.EnsureSession(ctx, id)
	if err != nil {
		return types.GenerationResult{}, err
	}
	return s.Generate(ctx, prompt, opts)
}

// GenerateStream runs a streaming completion on the session for id.
func (m *Manager) GenerateStream(ctx context.Context, id, prompt string, opts types.GenerationOptions, onEvent session.StreamFunc) error {
	s, err := m.EnsureSession(ctx, id)
	if err != nil {
		return err
	}
	return s.GenerateStreaming(ctx, prompt, opts, onEvent)
}

// GenerateMultimodal runs a mixed-parts completion on the session for id.
func (m *Manager) GenerateMultimodal(ctx context.Context, id string, parts []types.Part, opts types.GenerationOptions, resolution string) (types.GenerationResult, error) {
	s, err := m.EnsureSession(ctx, id)
	if err != nil {
		return types.GenerationResult{}, err
	}
	return s.GenerateMultimodal(ctx, parts, opts, resolution)
}
