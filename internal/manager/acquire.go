package manager

import (
	"context"

	"inferd/internal/catalog"
	"inferd/internal/fetch"
	"inferd/pkg/types"
)

// resolve maps a (possibly empty) model id to a catalog entry. An empty id
// falls back to the configured default model.
func (m *Manager) resolve(id string) (types.CatalogEntry, error) {
	if id == "" {
		id = m.defaultModel
	}
	entry, ok := catalog.ByID(m.catalog, id)
	if !ok {
		return types.CatalogEntry{}, ErrModelNotFound(id)
	}
	return entry, nil
}

// Acquire downloads (or cache-resolves) the asset for id. onProgress may be
// nil. cacheLarge overrides the configured large-asset policy when non-nil.
func (m *Manager) Acquire(ctx context.Context, id string, onProgress fetch.ProgressFunc, cacheLarge *bool) (fetch.Result, error) {
	entry, err := m.resolve(id)
	if err != nil {
		return fetch.Result{}, err
	}
	retainLarge := m.cacheLarge
	if cacheLarge != nil {
		retainLarge = *cacheLarge
	}

	m.publisher.Publish(Event{Name: "acquire_start", ModelID: entry.ID})
	res, err := m.fetcher.Acquire(ctx, entry, onProgress, retainLarge)
	if err != nil {
		m.setLastError(err)
		m.publisher.Publish(Event{Name: "acquire_error", ModelID: entry.ID, Fields: map[string]any{"error": err.Error()}})
		return fetch.Result{}, err
	}
	m.publisher.Publish(Event{Name: "acquire_done", ModelID: entry.ID, Fields: map[string]any{
		"cached":         res.Cached,
		"retained":       res.Retained(),
		"received_bytes": res.ReceivedBytes,
	}})
	return res, nil
}

// ClearCache drops every asset from the application cache.
func (m *Manager) ClearCache(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Clear(ctx); err != nil {
		m.setLastError(err)
		return err
	}
	m.publisher.Publish(Event{Name: "cache_cleared"})
	return nil
}
