// Package runtime abstracts the on-device generative engine. Backends are
// opaque and capability-tagged: a factory selects the implementation from
// the capability set declared by the catalog entry at initialization time.
package runtime

import (
	"context"
	"fmt"

	"inferd/pkg/types"
)

// Callback receives cumulative partial text: every invocation carries the
// entire text generated so far, not a delta. The final invocation has
// done=true and is made exactly once.
type Callback func(cumulative string, done bool) error

// Backend is a loaded generative engine bound to one model asset.
type Backend interface {
	// Generate produces text for the ordered prompt parts. When fn is
	// non-nil it is invoked with cumulative partial text as generation
	// proceeds. Implementations must return when ctx is canceled. The
	// returned string is the complete generated text.
	Generate(ctx context.Context, parts []types.Part, params GenerateParams, fn Callback) (string, error)
	// Close releases model resources.
	Close() error
}

// Source references the model asset a backend loads from.
type Source struct {
	EntryID string
	// Assembled asset bytes. Nil means the asset was not retained in
	// application memory and must be resolved from Path or URL.
	Data []byte
	// On-disk location of the asset, when one exists.
	Path string
	// Origin URL, usable by backends that resolve assets themselves.
	URL string
}

// InitOptions configure backend initialization.
type InitOptions struct {
	MaxTokens   int
	TopK        int
	Temperature float64
	Seed        int64
	CtxSize     int
	Threads     int
	// Required for multimodal capability sets.
	MaxImages    int
	SupportAudio bool
}

// GenerateParams are per-call sampling knobs.
type GenerateParams struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
	Seed        int64
}

// Factory builds a Backend for the given source and capability set.
type Factory func(src Source, caps []types.Capability, opts InitOptions) (Backend, error)

// FlattenText joins the text parts of a prompt. Backends without media
// support use it and refuse prompts that carry media parts.
func FlattenText(parts []types.Part) (string, error) {
	var out string
	for _, p := range parts {
		if p.Type != types.PartText {
			return "", fmt.Errorf("prompt part %q not supported by this backend", p.Type)
		}
		out += p.Text
	}
	return out, nil
}

// dependencyUnavailableError signals a missing runtime dependency (e.g. a
// binary built without llama support) so callers can report 503 rather than
// a generic failure.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing/failed
// runtime dependency.
func IsDependencyUnavailable(err error) bool {
	_, ok := err.(dependencyUnavailableError)
	return ok
}
