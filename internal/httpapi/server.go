// Package httpapi exposes the daemon over HTTP: catalog and status reads,
// NDJSON acquire streaming, single-shot and streaming generation, and the
// operational endpoints (health, readiness, metrics, docs).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inferd/internal/fetch"
	"inferd/internal/session"
	"inferd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Catalog() []types.CatalogEntry
	Status(ctx context.Context) types.StatusResponse
	Ready() bool
	Acquire(ctx context.Context, id string, onProgress fetch.ProgressFunc, cacheLarge *bool) (fetch.Result, error)
	Generate(ctx context.Context, id, prompt string, opts types.GenerationOptions) (types.GenerationResult, error)
	GenerateStream(ctx context.Context, id, prompt string, opts types.GenerationOptions, onEvent session.StreamFunc) error
	GenerateMultimodal(ctx context.Context, id string, parts []types.Part, opts types.GenerationOptions, resolution string) (types.GenerationResult, error)
	Unload(id string) error
	ClearCache(ctx context.Context) error
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/catalog", handleCatalog(svc))
	r.Get("/status", handleStatus(svc))
	r.Post("/acquire", handleAcquire(svc))
	r.Post("/generate", handleGenerate(svc))
	r.Post("/generate/multimodal", handleGenerateMultimodal(svc))
	r.Delete("/sessions/{id}", handleUnload(svc))
	r.Delete("/cache", handleClearCache(svc))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// decodeJSON enforces the content type and body size limit shared by all
// POST endpoints. A false return means the error response was already sent.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

// handleCatalog godoc
// @Summary List catalog entries
// @Produce json
// @Success 200 {object} types.CatalogResponse
// @Router /catalog [get]
func handleCatalog(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.CatalogResponse{Models: svc.Catalog()})
	}
}

// handleStatus godoc
// @Summary Daemon status: sessions, cached assets, health
// @Produce json
// @Success 200 {object} types.StatusResponse
// @Router /status [get]
func handleStatus(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status(r.Context()))
	}
}

// handleAcquire godoc
// @Summary Download or cache-resolve a model asset
// @Description Streams NDJSON progress lines followed by one terminal done line.
// @Accept json
// @Produce x-ndjson
// @Param request body types.AcquireRequest true "acquire request"
// @Success 200 {object} types.AcquireDone
// @Failure 404 {object} types.ErrorResponse
// @Failure 502 {object} types.ErrorResponse
// @Failure 507 {object} types.ErrorResponse
// @Router /acquire [post]
func handleAcquire(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.AcquireRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		enc := json.NewEncoder(w)
		wrote := false
		onProgress := func(p types.DownloadProgress) {
			if enc.Encode(p) == nil {
				wrote = true
				if flush != nil {
					flush()
				}
			}
		}

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		res, err := svc.Acquire(ctx, req.Model, onProgress, req.CacheLargeAssets)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Progress lines already on the wire force the error into the
			// stream instead of a status rewrite.
			if wrote {
				enc.Encode(map[string]any{"error": err.Error(), "code": statusFor(err)})
				return
			}
			writeServiceError(w, err)
			return
		}
		ObserveDownloadBytes(req.Model, res.ReceivedBytes)
		ObserveCacheOutcome(res.Cached)
		enc.Encode(types.AcquireDone{
			Done:          true,
			Cached:        res.Cached,
			Retained:      res.Retained(),
			ReceivedBytes: res.ReceivedBytes,
		})
	}
}

// handleGenerate godoc
// @Summary Generate text for a prompt
// @Description With stream=false returns one JSON result; with stream=true
// @Description streams NDJSON events whose text field is cumulative, ending
// @Description with a single done event carrying metadata.
// @Accept json
// @Produce json
// @Param request body types.GenerateRequest true "generate request"
// @Success 200 {object} types.GenerationResult
// @Failure 400 {object} types.ErrorResponse
// @Failure 404 {object} types.ErrorResponse
// @Failure 429 {object} types.ErrorResponse
// @Failure 503 {object} types.ErrorResponse
// @Router /generate [post]
func handleGenerate(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		if !req.Stream {
			res, err := svc.Generate(ctx, req.Model, req.Prompt, req.Options)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				writeServiceError(w, err)
				return
			}
			ObserveGeneration(res.Metadata.Model, "sync", res.Metadata.TotalTokens)
			writeJSON(w, res)
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		writer := streamWriter(w, r)
		enc := json.NewEncoder(writer)
		wrote := false
		err := svc.GenerateStream(ctx, req.Model, req.Prompt, req.Options, func(ev types.StreamEvent) error {
			if err := enc.Encode(ev); err != nil {
				return err
			}
			wrote = true
			if flush != nil {
				flush()
			}
			if ev.Done && ev.Metadata != nil {
				ObserveGeneration(ev.Metadata.Model, "stream", ev.Metadata.TotalTokens)
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if wrote {
				enc.Encode(map[string]any{"error": err.Error(), "code": statusFor(err)})
				return
			}
			writeServiceError(w, err)
		}
	}
}

// handleGenerateMultimodal godoc
// @Summary Generate text for an ordered mixed-parts prompt
// @Accept json
// @Produce json
// @Param request body types.GenerateRequest true "generate request with parts"
// @Success 200 {object} types.GenerationResult
// @Failure 400 {object} types.ErrorResponse
// @Failure 404 {object} types.ErrorResponse
// @Failure 429 {object} types.ErrorResponse
// @Router /generate/multimodal [post]
func handleGenerateMultimodal(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if len(req.Parts) == 0 {
			writeJSONError(w, http.StatusBadRequest, "parts are required")
			return
		}

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		res, err := svc.GenerateMultimodal(ctx, req.Model, req.Parts, req.Options, req.ImageResolution)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			writeServiceError(w, err)
			return
		}
		ObserveGeneration(res.Metadata.Model, "multimodal", res.Metadata.TotalTokens)
		writeJSON(w, res)
	}
}

// handleUnload godoc
// @Summary Drain and close the session for a model
// @Param id path string true "catalog entry id"
// @Success 204
// @Failure 404 {object} types.ErrorResponse
// @Router /sessions/{id} [delete]
func handleUnload(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := svc.Unload(id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleClearCache godoc
// @Summary Drop every asset from the application cache
// @Success 204
// @Router /cache [delete]
func handleClearCache(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.ClearCache(r.Context()); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
