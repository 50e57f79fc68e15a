package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/runtime"
	"inferd/pkg/types"
)

// fakeBackend is a scripted runtime backend. It echoes reply for single-shot
// calls and replays partials (then done) for streaming calls.
type fakeBackend struct {
	mu        sync.Mutex
	reply     string
	partials  []string
	doubleDone bool
	genErr    error
	block     chan struct{} // when set, Generate waits until closed
	closed    bool
	lastParts []types.Part
}

func (f *fakeBackend) Generate(ctx context.Context, parts []types.Part, params runtime.GenerateParams, fn runtime.Callback) (string, error) {
	f.mu.Lock()
	f.lastParts = parts
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.genErr != nil {
		return "", f.genErr
	}
	if fn != nil {
		for _, p := range f.partials {
			if err := fn(p, false); err != nil {
				return "", err
			}
		}
		final := f.reply
		if len(f.partials) > 0 {
			final = f.partials[len(f.partials)-1]
		}
		if err := fn(final, true); err != nil {
			return final, err
		}
		if f.doubleDone {
			if err := fn(final, true); err != nil {
				return final, err
			}
		}
		return final, nil
	}
	return f.reply, nil
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func textEntry(id string) types.CatalogEntry {
	return types.CatalogEntry{ID: id, Name: id, URL: "http://h/" + id, SizeBytes: 100,
		Capabilities: []types.Capability{types.CapabilityText}}
}

func multimodalEntry(id string) types.CatalogEntry {
	return types.CatalogEntry{ID: id, Name: id, URL: "http://h/" + id, SizeBytes: 100,
		Capabilities: []types.Capability{types.CapabilityText, types.CapabilityVision, types.CapabilityAudio}}
}

func factoryFor(b runtime.Backend) runtime.Factory {
	return func(src runtime.Source, caps []types.Capability, opts runtime.InitOptions) (runtime.Backend, error) {
		return b, nil
	}
}

func newTestSession(t *testing.T, entry types.CatalogEntry, b *fakeBackend) *Session {
	t.Helper()
	s, err := New(factoryFor(b), runtime.Source{EntryID: entry.ID}, entry, runtime.InitOptions{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}

func TestNewWrapsFactoryFailure(t *testing.T) {
	failing := func(src runtime.Source, caps []types.Capability, opts runtime.InitOptions) (runtime.Backend, error) {
		return nil, errors.New("bad asset")
	}
	_, err := New(failing, runtime.Source{}, textEntry("m"), runtime.InitOptions{}, zerolog.Nop())
	if err == nil || !IsRuntimeInit(err) {
		t.Fatalf("expected runtime init error, got %v", err)
	}
}

// Scenario: generate("hello") against an echo backend returns the echoed
// text with tokens from the shared heuristic.
func TestGenerateEcho(t *testing.T) {
	b := &fakeBackend{reply: "hello world"}
	s := newTestSession(t, textEntry("m"), b)

	res, err := s.Generate(context.Background(), "hello", types.GenerationOptions{Temperature: 0.7})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Text != "hello world" {
		t.Fatalf("text = %q", res.Text)
	}
	if res.Metadata.TotalTokens != EstimateTokens("hello world") {
		t.Fatalf("total tokens = %d, want heuristic value %d", res.Metadata.TotalTokens, EstimateTokens("hello world"))
	}
	if res.Metadata.InputTokens != EstimateTokens("hello") {
		t.Fatalf("input tokens = %d", res.Metadata.InputTokens)
	}
	if res.Metadata.Model != "m" || res.Metadata.Temperature != 0.7 {
		t.Fatalf("metadata: %+v", res.Metadata)
	}
	if res.Metadata.ResponseLatencyMs > syncLatencyCapMs {
		t.Fatalf("sync latency above cap: %v", res.Metadata.ResponseLatencyMs)
	}
}

func TestGeneratePromptDelimiters(t *testing.T) {
	b := &fakeBackend{reply: "ok"}
	s := newTestSession(t, textEntry("m"), b)
	if _, err := s.Generate(context.Background(), "ping", types.GenerationOptions{}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(b.lastParts) != 1 {
		t.Fatalf("expected one flattened part, got %d", len(b.lastParts))
	}
	got := b.lastParts[0].Text
	want := userTurnOpen + "ping" + turnClose + modelTurnOpen
	if got != want {
		t.Fatalf("prompt = %q, want %q", got, want)
	}
}

func TestGenerateBackendErrorIsTyped(t *testing.T) {
	b := &fakeBackend{genErr: errors.New("kaboom")}
	s := newTestSession(t, textEntry("m"), b)
	_, err := s.Generate(context.Background(), "x", types.GenerationOptions{})
	if err == nil || !IsGeneration(err) {
		t.Fatalf("expected generation error, got %v", err)
	}
}

// Scenario: partials "a", "a b", "a b c" then done produce two partial
// events and one terminal event with the final text and metadata.
func TestGenerateStreamingEvents(t *testing.T) {
	b := &fakeBackend{partials: []string{"a", "a b", "a b c"}}
	s := newTestSession(t, textEntry("m"), b)

	var events []types.StreamEvent
	err := s.GenerateStreaming(context.Background(), "go", types.GenerationOptions{}, func(ev types.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events (3 partial + done), got %d", len(events))
	}
	doneCount := 0
	for i, ev := range events {
		if ev.Done {
			doneCount++
			if i != len(events)-1 {
				t.Fatalf("done event not last (index %d)", i)
			}
			if ev.Metadata == nil {
				t.Fatalf("done event missing metadata")
			}
			if ev.Text != "a b c" {
				t.Fatalf("terminal text = %q", ev.Text)
			}
		} else if ev.Metadata != nil {
			t.Fatalf("partial event %d carries metadata", i)
		}
	}
	if doneCount != 1 {
		t.Fatalf("done fired %d times", doneCount)
	}
	// Cumulative convention: each partial holds the whole text so far.
	if events[0].Text != "a" || events[1].Text != "a b" || events[2].Text != "a b c" {
		t.Fatalf("cumulative texts wrong: %+v", events[:3])
	}
}

// A backend that signals completion twice still yields exactly one terminal
// event.
func TestGenerateStreamingDuplicateDoneSuppressed(t *testing.T) {
	b := &fakeBackend{partials: []string{"x"}, doubleDone: true}
	s := newTestSession(t, textEntry("m"), b)

	doneCount := 0
	err := s.GenerateStreaming(context.Background(), "go", types.GenerationOptions{}, func(ev types.StreamEvent) error {
		if ev.Done {
			doneCount++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if doneCount != 1 {
		t.Fatalf("done fired %d times", doneCount)
	}
}

// A backend that never flags done still owes the consumer a terminal event.
func TestGenerateStreamingSynthesizesTerminal(t *testing.T) {
	b := &fakeBackend{reply: "flat"}
	s := newTestSession(t, textEntry("m"), b)

	var last types.StreamEvent
	err := s.GenerateStreaming(context.Background(), "go", types.GenerationOptions{}, func(ev types.StreamEvent) error {
		last = ev
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if !last.Done || last.Metadata == nil {
		t.Fatalf("missing synthesized terminal event: %+v", last)
	}
}

func TestGenerateMultimodalRequiresCapability(t *testing.T) {
	b := &fakeBackend{reply: "nope"}
	s := newTestSession(t, textEntry("m"), b)

	// Even an all-text parts list is rejected on a text-only session.
	_, err := s.GenerateMultimodal(context.Background(), []types.Part{types.TextPart("hi")}, types.GenerationOptions{}, "")
	if err == nil || !IsCapability(err) {
		t.Fatalf("expected capability error, got %v", err)
	}
}

func TestGenerateMultimodalAssemblyAndMetadata(t *testing.T) {
	b := &fakeBackend{reply: "a cat on a mat"}
	s := newTestSession(t, multimodalEntry("mm"), b)

	parts := []types.Part{
		types.TextPart("describe "),
		{Type: types.PartImage, Source: "/tmp/cat.png"},
		{Type: types.PartAudio, Source: "/tmp/meow.wav"},
	}
	res, err := s.GenerateMultimodal(context.Background(), parts, types.GenerationOptions{}, "")
	if err != nil {
		t.Fatalf("multimodal: %v", err)
	}
	md := res.Metadata
	if md.ImageCount != 1 || md.AudioCount != 1 || md.VideoCount != 0 {
		t.Fatalf("counts wrong: %+v", md)
	}
	if md.ImageResolution != defaultImageResolution {
		t.Fatalf("resolution = %q, want default", md.ImageResolution)
	}
	if md.VideoProcessingMs != 0 {
		t.Fatalf("absent modality got a processing time")
	}

	// Assembled prompt: open marker, parts in order, close/model markers.
	got := b.lastParts
	if len(got) != len(parts)+2 {
		t.Fatalf("assembled %d parts, want %d", len(got), len(parts)+2)
	}
	if got[0].Text != userTurnOpen {
		t.Fatalf("missing open marker: %+v", got[0])
	}
	if got[1].Text != "describe " || got[2].Type != types.PartImage || got[3].Type != types.PartAudio {
		t.Fatalf("input order not preserved: %+v", got[1:4])
	}
	if got[len(got)-1].Text != turnClose+modelTurnOpen {
		t.Fatalf("missing close markers: %+v", got[len(got)-1])
	}
}

func TestGenerateMultimodalResolutionTag(t *testing.T) {
	b := &fakeBackend{reply: "ok"}
	s := newTestSession(t, multimodalEntry("mm"), b)

	res, err := s.GenerateMultimodal(context.Background(),
		[]types.Part{{Type: types.PartImage, Source: "x.png"}},
		types.GenerationOptions{}, "1024x768")
	if err != nil {
		t.Fatalf("multimodal: %v", err)
	}
	if res.Metadata.ImageResolution != "1024x768" {
		t.Fatalf("resolution = %q", res.Metadata.ImageResolution)
	}

	// No image part: no resolution tag at all.
	res, err = s.GenerateMultimodal(context.Background(),
		[]types.Part{types.TextPart("text only")},
		types.GenerationOptions{}, "1024x768")
	if err != nil {
		t.Fatalf("multimodal: %v", err)
	}
	if res.Metadata.ImageResolution != "" {
		t.Fatalf("resolution set without image parts: %q", res.Metadata.ImageResolution)
	}
}

// A second generate while one is in flight is rejected, not queued.
func TestConcurrentGenerateRejected(t *testing.T) {
	block := make(chan struct{})
	b := &fakeBackend{reply: "slow", block: block}
	s := newTestSession(t, textEntry("m"), b)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Generate(context.Background(), "first", types.GenerationOptions{})
		errCh <- err
	}()

	// Wait for the first call to occupy the slot.
	deadline := time.Now().Add(time.Second)
	for s.State() != StateGenerating {
		if time.Now().After(deadline) {
			t.Fatalf("first generate never started")
		}
		time.Sleep(time.Millisecond)
	}

	_, err := s.Generate(context.Background(), "second", types.GenerationOptions{})
	if err == nil || !IsBusy(err) {
		t.Fatalf("expected busy error, got %v", err)
	}

	close(block)
	if err := <-errCh; err != nil {
		t.Fatalf("first generate: %v", err)
	}
}

func TestUnloadClosesBackendAndRejectsWork(t *testing.T) {
	b := &fakeBackend{reply: "ok"}
	s := newTestSession(t, textEntry("m"), b)

	if err := s.Unload(time.Second); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if !b.closed {
		t.Fatalf("backend not closed")
	}
	if _, err := s.Generate(context.Background(), "x", types.GenerationOptions{}); !IsClosed(err) {
		t.Fatalf("expected closed error, got %v", err)
	}
	// Unload is idempotent.
	if err := s.Unload(time.Second); err != nil {
		t.Fatalf("second unload: %v", err)
	}
}

func TestGenerateCanceledContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	b := &fakeBackend{reply: "never", block: block}
	s := newTestSession(t, textEntry("m"), b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Generate(ctx, "x", types.GenerationOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStreamingConsumerErrorStopsGeneration(t *testing.T) {
	b := &fakeBackend{partials: []string{"a", "a b", "a b c"}}
	s := newTestSession(t, textEntry("m"), b)

	wantErr := errors.New("consumer gone")
	err := s.GenerateStreaming(context.Background(), "go", types.GenerationOptions{}, func(ev types.StreamEvent) error {
		if strings.Contains(ev.Text, "b") {
			return wantErr
		}
		return nil
	})
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
}
