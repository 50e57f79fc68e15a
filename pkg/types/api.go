package types

// AcquireRequest asks the daemon to download (or cache-resolve) an asset.
type AcquireRequest struct {
	// Catalog entry id to acquire.
	// example: gemma-2b-q4
	Model string `json:"model" example:"gemma-2b-q4"`
	// Optional override of the configured cache-large-assets policy.
	CacheLargeAssets *bool `json:"cache_large_assets,omitempty"`
}

// AcquireDone is the terminal NDJSON line of an acquire stream.
type AcquireDone struct {
	Done bool `json:"done"`
	// True when the asset was served from the application cache.
	Cached bool `json:"cached"`
	// True when a buffer was assembled and kept; false means the asset was
	// streamed and discarded (large asset, policy off).
	Retained bool `json:"retained"`
	// Bytes actually received over the network (0 on a cache hit).
	// example: 1254023168
	ReceivedBytes int64 `json:"received_bytes" example:"1254023168"`
}

// GenerateRequest is the payload for both generate endpoints.
type GenerateRequest struct {
	// Catalog entry id. If empty, the server default is used.
	// example: gemma-2b-q4
	Model string `json:"model,omitempty" example:"gemma-2b-q4"`
	// Prompt text for single-shot and streaming generation.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt,omitempty" example:"Write a haiku about the ocean."`
	// Ordered prompt parts for multimodal generation.
	Parts []Part `json:"parts,omitempty"`
	// If true, stream results as NDJSON StreamEvent lines.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
	// Resolution tag recorded in metadata when image parts are present.
	// example: 512x512
	ImageResolution string `json:"image_resolution,omitempty" example:"512x512"`
	// Sampling options.
	Options GenerationOptions `json:"options"`
}

// CatalogResponse wraps the list of entries returned by GET /catalog.
type CatalogResponse struct {
	Models []CatalogEntry `json:"models"`
}

// SessionStatus summarizes one live inference session for /status.
type SessionStatus struct {
	// Opaque session identifier.
	// example: 7f8c7d7e-1a2b-4c3d-9e8f-0a1b2c3d4e5f
	SessionID string `json:"session_id"`
	// Catalog entry the session was built from.
	// example: gemma-2b-q4
	Model string `json:"model" example:"gemma-2b-q4"`
	// Lifecycle state (ready, generating, draining).
	// example: ready
	State string `json:"state" example:"ready"`
	// True when the session accepts image/audio/video parts.
	Multimodal bool `json:"multimodal"`
	// Last time this session served a request (unix seconds).
	// example: 1700000000
	LastUsed int64 `json:"last_used_unix" example:"1700000000"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Live sessions.
	Sessions []SessionStatus `json:"sessions"`
	// Ids of assets currently present in the application cache.
	CachedAssets []string `json:"cached_assets,omitempty"`
	// Overall daemon state (ready, loading, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Last error observed (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the daemon in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: model not found: gemma-2b-q4
	Error string `json:"error" example:"model not found: gemma-2b-q4"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}
