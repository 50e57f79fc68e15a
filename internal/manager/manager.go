// Package manager orchestrates the asset pipeline and inference sessions:
// it resolves catalog entries, drives the fetcher, initializes sessions on
// demand, and exposes the status surface consumed by the HTTP layer.
package manager

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/cache"
	"inferd/internal/fetch"
	"inferd/internal/runtime"
	"inferd/internal/session"
	"inferd/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultDrainTimeout = 5 * time.Second
)

// Config encapsulates all tunables for Manager construction.
type Config struct {
	Catalog          []types.CatalogEntry
	Store            cache.Store
	Fetcher          *fetch.Fetcher
	Factory          runtime.Factory
	DefaultModel     string
	CacheLargeAssets bool
	InitOptions      runtime.InitOptions
	DrainTimeout     time.Duration
	Publisher        EventPublisher
	Logger           zerolog.Logger
}

type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	lastErr  string

	// ensureMu serializes session creation; concurrent downloads for one
	// id are already de-duplicated inside the fetcher.
	ensureMu sync.Mutex

	catalog      []types.CatalogEntry
	store        cache.Store
	fetcher      *fetch.Fetcher
	factory      runtime.Factory
	defaultModel string
	cacheLarge   bool
	initOpts     runtime.InitOptions
	drainTimeout time.Duration
	publisher    EventPublisher
	startTime    time.Time
	log          zerolog.Logger
}

// NewWithConfig constructs a Manager from Config.
func NewWithConfig(cfg Config) *Manager {
	m := &Manager{
		sessions:     make(map[string]*session.Session),
		catalog:      cfg.Catalog,
		store:        cfg.Store,
		fetcher:      cfg.Fetcher,
		factory:      cfg.Factory,
		defaultModel: cfg.DefaultModel,
		cacheLarge:   cfg.CacheLargeAssets,
		initOpts:     cfg.InitOptions,
		drainTimeout: cfg.DrainTimeout,
		publisher:    cfg.Publisher,
		startTime:    time.Now(),
		log:          cfg.Logger,
	}
	if m.fetcher == nil {
		m.fetcher = fetch.New(cfg.Store, fetch.WithLogger(cfg.Logger))
	}
	if m.factory == nil {
		m.factory = runtime.NewBackend
	}
	if m.drainTimeout <= 0 {
		m.drainTimeout = defaultDrainTimeout
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	return m
}

// Catalog returns a copy of the catalog entries.
func (m *Manager) Catalog() []types.CatalogEntry {
	out := make([]types.CatalogEntry, len(m.catalog))
	copy(out, m.catalog)
	return out
}

// Ready reports whether the daemon can serve requests.
func (m *Manager) Ready() bool {
	return len(m.catalog) > 0
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
}
