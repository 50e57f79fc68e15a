package manager

import (
	"context"
	"sort"
	"time"

	"inferd/pkg/types"
)

// Status snapshots the live sessions, cached asset ids, and daemon health.
func (m *Manager) Status(ctx context.Context) types.StatusResponse {
	m.mu.RLock()
	sessions := make([]types.SessionStatus, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, types.SessionStatus{
			SessionID:  s.ID(),
			Model:      s.Entry().ID,
			State:      string(s.State()),
			Multimodal: s.Multimodal(),
			LastUsed:   s.LastUsed().Unix(),
		})
	}
	lastErr := m.lastErr
	m.mu.RUnlock()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Model < sessions[j].Model })

	state := "ready"
	if !m.Ready() {
		state = "error"
	}

	var cached []string
	if m.store != nil {
		keys, err := m.store.Keys(ctx)
		if err != nil {
			m.log.Warn().Err(err).Msg("cache keys unavailable for status")
		} else {
			sort.Strings(keys)
			cached = keys
		}
	}

	now := time.Now()
	return types.StatusResponse{
		Sessions:       sessions,
		CachedAssets:   cached,
		State:          state,
		LastError:      lastErr,
		UptimeSeconds:  int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
}
