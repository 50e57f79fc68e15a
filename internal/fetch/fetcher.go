// Package fetch implements the asset acquisition pipeline: chunked,
// progress-tracked download of model binaries with a size-based cache/skip
// policy and failure-safe buffer assembly.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"inferd/internal/cache"
	"inferd/pkg/types"
)

// LargeAssetThreshold is the byte-size boundary above which a download is
// only persisted to the application cache when the cache-large-assets policy
// is on. Below it, downloads are always cached.
const LargeAssetThreshold int64 = 500 * 1024 * 1024

// readChunkSize is the transfer buffer used by the chunk-read loop.
const readChunkSize = 256 * 1024

// Result is the outcome of one Acquire call. Buffer is nil when the asset
// was streamed and discarded (large asset, policy off); the platform HTTP
// cache is then the only holder of the bytes.
type Result struct {
	Buffer        []byte
	Cached        bool
	ReceivedBytes int64
}

// Retained reports whether a buffer was assembled and kept.
func (r Result) Retained() bool { return r.Buffer != nil }

type inflight struct {
	done chan struct{}
	res  Result
	err  error
}

// Fetcher downloads catalog assets and manages the application cache.
type Fetcher struct {
	store     cache.Store
	client    *http.Client
	threshold int64
	alloc     func(n int64) ([]byte, error)
	log       zerolog.Logger

	mu     sync.Mutex
	active map[string]*inflight
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }

// WithThreshold overrides the large-asset threshold.
func WithThreshold(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.threshold = n
		}
	}
}

// WithAllocator replaces the buffer allocator used at assembly time.
func WithAllocator(alloc func(n int64) ([]byte, error)) Option {
	return func(f *Fetcher) { f.alloc = alloc }
}

// WithLogger installs a structured logger.
func WithLogger(l zerolog.Logger) Option { return func(f *Fetcher) { f.log = l } }

// New constructs a Fetcher backed by the given cache store.
func New(store cache.Store, opts ...Option) *Fetcher {
	f := &Fetcher{
		store:     store,
		client:    http.DefaultClient,
		threshold: LargeAssetThreshold,
		alloc:     defaultAlloc,
		log:       zerolog.Nop(),
		active:    make(map[string]*inflight),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Acquire resolves the asset for entry. Cache hits return immediately with
// no progress events. On a miss the asset is downloaded in chunks with a
// progress snapshot emitted per chunk (plus one zero snapshot up front).
// Large assets are only retained and cached when cacheLarge is true;
// otherwise the bytes are counted and discarded and Result.Buffer is nil.
// Concurrent acquires for the same id share one download; only the first
// caller observes progress events.
func (f *Fetcher) Acquire(ctx context.Context, entry types.CatalogEntry, onProgress ProgressFunc, cacheLarge bool) (Result, error) {
	if buf, ok := f.cacheLookup(ctx, entry.ID); ok {
		f.log.Debug().Str("asset", entry.ID).Msg("cache hit")
		return Result{Buffer: buf, Cached: true}, nil
	}

	f.mu.Lock()
	if call, ok := f.active[entry.ID]; ok {
		f.mu.Unlock()
		select {
		case <-call.done:
			return call.res, call.err
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	call := &inflight{done: make(chan struct{})}
	f.active[entry.ID] = call
	f.mu.Unlock()

	res, err := f.download(ctx, entry, onProgress, cacheLarge)
	call.res, call.err = res, err
	f.mu.Lock()
	delete(f.active, entry.ID)
	f.mu.Unlock()
	close(call.done)
	return res, err
}

// cacheLookup treats store failures as misses; the cache is never allowed to
// fail an acquire.
func (f *Fetcher) cacheLookup(ctx context.Context, id string) ([]byte, bool) {
	if f.store == nil {
		return nil, false
	}
	buf, ok, err := f.store.Get(ctx, id)
	if err != nil {
		f.log.Warn().Err(err).Str("asset", id).Msg("cache get failed, downloading")
		return nil, false
	}
	return buf, ok
}

func (f *Fetcher) download(ctx context.Context, entry types.CatalogEntry, onProgress ProgressFunc, cacheLarge bool) (Result, error) {
	retain := entry.SizeBytes < f.threshold || cacheLarge

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.URL, nil)
	if err != nil {
		return Result{}, ErrNetwork(entry.ID, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, ErrNetwork(entry.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, ErrBadStatus(entry.ID, resp.StatusCode)
	}

	f.log.Info().
		Str("asset", entry.ID).
		Str("size", humanize.IBytes(uint64(entry.SizeBytes))).
		Bool("retain", retain).
		Msg("download start")

	tracker := newProgressTracker(entry.SizeBytes)
	emit := func() {
		if onProgress != nil {
			onProgress(tracker.snapshot())
		}
	}
	// Observers see immediate activity before the first byte arrives.
	emit()

	var chunks [][]byte
	buf := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			tracker.add(int64(n))
			if retain {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				chunks = append(chunks, chunk)
			}
			emit()
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{}, ErrNetwork(entry.ID, rerr)
		}
	}

	received := tracker.loaded
	if received != entry.SizeBytes {
		// Progress math keeps trusting the catalog; the divergence is only
		// surfaced here.
		f.log.Warn().
			Str("asset", entry.ID).
			Int64("declared", entry.SizeBytes).
			Int64("received", received).
			Msg("catalog size mismatch")
	}

	if !retain {
		f.log.Info().Str("asset", entry.ID).Msg("streamed without retaining; platform cache holds the bytes")
		return Result{ReceivedBytes: received}, nil
	}

	out, err := f.assemble(entry, chunks, received)
	if err != nil {
		return Result{}, err
	}
	if f.store != nil {
		if perr := f.store.Put(ctx, entry.ID, out); perr != nil {
			// A failed persist never invalidates the assembled buffer.
			f.log.Warn().Err(perr).Str("asset", entry.ID).Msg("cache put failed")
		}
	}
	return Result{Buffer: out, ReceivedBytes: received}, nil
}

// assemble concatenates chunks into one contiguous buffer. The single large
// allocation is the most failure-prone step for multi-GB assets, so failure
// is converted into a typed allocation error instead of crashing the caller.
func (f *Fetcher) assemble(entry types.CatalogEntry, chunks [][]byte, total int64) ([]byte, error) {
	name := entry.Name
	if name == "" {
		name = entry.ID
	}
	out, err := f.alloc(total)
	if err != nil {
		f.log.Error().Err(err).Str("asset", entry.ID).Msg("buffer assembly failed")
		return nil, ErrAllocation(name, entry.SizeBytes)
	}
	off := 0
	for _, c := range chunks {
		off += copy(out[off:], c)
	}
	return out[:off], nil
}

func defaultAlloc(n int64) (b []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, err = nil, fmt.Errorf("alloc %d bytes: %v", n, r)
		}
	}()
	return make([]byte, n), nil
}
