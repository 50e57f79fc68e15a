// Package session drives one loaded backend: prompt assembly, single-shot,
// streaming and multimodal generation, and the telemetry computed for each
// call.
package session

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"inferd/internal/runtime"
	"inferd/pkg/types"
)

// State is the lifecycle of one session.
type State string

const (
	StateReady      State = "ready"
	StateGenerating State = "generating"
	StateDraining   State = "draining"
)

const (
	// Single-shot mode gets no mid-generation signal, so response latency
	// is approximated as the total time capped at this constant. It is not
	// a measured first-token time.
	syncLatencyCapMs = 500.0

	// Image-part ceiling applied when a multimodal entry declares none.
	defaultMaxImages = 1

	// Resolution tag recorded when image parts are present and the request
	// carries no tag of its own.
	defaultImageResolution = "512x512"

	drainPoll = 10 * time.Millisecond
)

// StreamFunc consumes streaming events. Every event carries cumulative text;
// exactly one has Done=true and only that one has Metadata.
type StreamFunc func(types.StreamEvent) error

// Session binds a backend to the catalog entry it was initialized from.
// Generate calls on one session are not queued: a second call while one is
// in flight is rejected with a busy error.
type Session struct {
	id         string
	entry      types.CatalogEntry
	backend    runtime.Backend
	multimodal bool
	log        zerolog.Logger

	genCh chan struct{} // size 1: single in-flight generation

	mu       sync.Mutex
	closed   bool
	lastUsed time.Time
}

// New initializes a backend for the entry via the factory and wraps it in a
// session. Initialization failure leaves no usable session.
func New(factory runtime.Factory, src runtime.Source, entry types.CatalogEntry, opts runtime.InitOptions, log zerolog.Logger) (*Session, error) {
	multimodal := entry.Multimodal()
	if multimodal {
		if opts.MaxImages <= 0 {
			opts.MaxImages = defaultMaxImages
		}
		opts.SupportAudio = hasCapability(entry, types.CapabilityAudio)
	}
	backend, err := factory(src, entry.Capabilities, opts)
	if err != nil {
		return nil, ErrRuntimeInit(entry.ID, err)
	}
	s := &Session{
		id:         uuid.NewString(),
		entry:      entry,
		backend:    backend,
		multimodal: multimodal,
		log:        log.With().Str("model", entry.ID).Logger(),
		genCh:      make(chan struct{}, 1),
		lastUsed:   time.Now(),
	}
	s.log.Info().Str("session", s.id).Bool("multimodal", multimodal).Msg("session ready")
	return s, nil
}

func hasCapability(e types.CatalogEntry, c types.Capability) bool {
	for _, x := range e.Capabilities {
		if x == c {
			return true
		}
	}
	return false
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// Entry returns the catalog entry this session serves.
func (s *Session) Entry() types.CatalogEntry { return s.entry }

// Multimodal reports whether the session accepts media parts.
func (s *Session) Multimodal() bool { return s.multimodal }

// LastUsed returns the time of the most recent generate call.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return StateDraining
	}
	if len(s.genCh) > 0 {
		return StateGenerating
	}
	return StateReady
}

// begin reserves the single in-flight slot or fails with a busy error.
func (s *Session) begin() (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed(s.entry.ID)
	}
	s.lastUsed = time.Now()
	s.mu.Unlock()
	select {
	case s.genCh <- struct{}{}:
		return func() { <-s.genCh }, nil
	default:
		return nil, ErrBusy(s.entry.ID)
	}
}

func toGenerateParams(opts types.GenerationOptions) runtime.GenerateParams {
	return runtime.GenerateParams{
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		TopK:        opts.TopK,
		Seed:        opts.Seed,
	}
}

// Generate runs a single-shot completion for prompt.
func (s *Session) Generate(ctx context.Context, prompt string, opts types.GenerationOptions) (types.GenerationResult, error) {
	release, err := s.begin()
	if err != nil {
		return types.GenerationResult{}, err
	}
	defer release()

	start := time.Now()
	text, err := s.backend.Generate(ctx, textPrompt(prompt), toGenerateParams(opts), nil)
	if err != nil {
		if ctx.Err() != nil {
			return types.GenerationResult{}, ctx.Err()
		}
		return types.GenerationResult{}, ErrGeneration(s.entry.ID, err)
	}
	totalMs := float64(time.Since(start).Nanoseconds()) / 1e6
	latencyMs := totalMs
	if latencyMs > syncLatencyCapMs {
		latencyMs = syncLatencyCapMs
	}
	md := buildMetadata(s.entry.ID, prompt, text, totalMs, latencyMs, opts)
	s.log.Debug().
		Float64("total_ms", totalMs).
		Int("tokens", md.TotalTokens).
		Msg("generate done")
	return types.GenerationResult{Text: text, Metadata: md}, nil
}

// GenerateStreaming runs a streaming completion. Partial events forward the
// backend's cumulative text as it grows; the terminal event carries the
// metadata and occurs exactly once.
func (s *Session) GenerateStreaming(ctx context.Context, prompt string, opts types.GenerationOptions, onEvent StreamFunc) error {
	release, err := s.begin()
	if err != nil {
		return err
	}
	defer release()

	acc := newStreamAccumulator()
	cb := func(cumulative string, done bool) error {
		if done {
			if !acc.finish(cumulative) {
				return nil
			}
			md := acc.metadata(s.entry.ID, prompt, opts)
			return onEvent(types.StreamEvent{Text: cumulative, Done: true, Metadata: &md})
		}
		acc.observe(cumulative)
		return onEvent(types.StreamEvent{Text: cumulative})
	}

	final, err := s.backend.Generate(ctx, textPrompt(prompt), toGenerateParams(opts), cb)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrGeneration(s.entry.ID, err)
	}
	// Backends that return without flagging completion still owe the
	// consumer one terminal event.
	if acc.finish(final) {
		md := acc.metadata(s.entry.ID, prompt, opts)
		return onEvent(types.StreamEvent{Text: final, Done: true, Metadata: &md})
	}
	return nil
}

// GenerateMultimodal runs a single-shot completion over ordered mixed parts.
// It requires a multimodal session regardless of what parts contains.
func (s *Session) GenerateMultimodal(ctx context.Context, parts []types.Part, opts types.GenerationOptions, resolution string) (types.GenerationResult, error) {
	if !s.multimodal {
		return types.GenerationResult{}, ErrCapability(s.entry.ID)
	}
	release, err := s.begin()
	if err != nil {
		return types.GenerationResult{}, err
	}
	defer release()

	assembled, spans := assembleMultimodal(parts)
	start := time.Now()
	text, err := s.backend.Generate(ctx, assembled, toGenerateParams(opts), nil)
	if err != nil {
		if ctx.Err() != nil {
			return types.GenerationResult{}, ctx.Err()
		}
		return types.GenerationResult{}, ErrGeneration(s.entry.ID, err)
	}
	totalMs := float64(time.Since(start).Nanoseconds()) / 1e6
	latencyMs := totalMs
	if latencyMs > syncLatencyCapMs {
		latencyMs = syncLatencyCapMs
	}

	md := buildMetadata(s.entry.ID, promptText(parts), text, totalMs, latencyMs, opts)
	md.ImageCount = spans.images
	md.AudioCount = spans.audios
	md.VideoCount = spans.videos
	if spans.images > 0 {
		if resolution == "" {
			resolution = defaultImageResolution
		}
		md.ImageResolution = resolution
		md.ImageProcessingMs = spans.imageMs
	}
	if spans.audios > 0 {
		md.AudioProcessingMs = spans.audioMs
	}
	if spans.videos > 0 {
		md.VideoProcessingMs = spans.videoMs
	}
	return types.GenerationResult{Text: text, Metadata: md}, nil
}

// Unload drains the in-flight generation (bounded by drainTimeout), closes
// the backend, and hints the allocator to return freed memory. The session
// rejects new work immediately.
func (s *Session) Unload(drainTimeout time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	deadline := time.Now().Add(drainTimeout)
	for len(s.genCh) > 0 {
		if time.Now().After(deadline) {
			s.log.Warn().Str("session", s.id).Msg("unload drain timeout")
			break
		}
		time.Sleep(drainPoll)
	}
	err := s.backend.Close()
	// Best-effort reclamation hint; large model buffers are worth returning
	// to the OS promptly.
	debug.FreeOSMemory()
	s.log.Info().Str("session", s.id).Msg("session unloaded")
	return err
}
