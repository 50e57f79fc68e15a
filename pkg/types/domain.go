package types

// Capability is a declared input modality supported by a catalog entry.
type Capability string

const (
	CapabilityText   Capability = "text"
	CapabilityVision Capability = "vision"
	CapabilityAudio  Capability = "audio"
)

// KnownCapability reports whether c is one of the declared modalities.
func KnownCapability(c Capability) bool {
	switch c {
	case CapabilityText, CapabilityVision, CapabilityAudio:
		return true
	}
	return false
}

// CatalogEntry describes a downloadable model asset. Entries are immutable
// once loaded from the catalog file at startup.
type CatalogEntry struct {
	// Stable identifier for the asset.
	// example: gemma-2b-q4
	ID string `json:"id" yaml:"id" toml:"id" example:"gemma-2b-q4"`
	// Human-friendly name.
	// example: Gemma 2B (Q4)
	Name string `json:"name" yaml:"name" toml:"name" example:"Gemma 2B (Q4)"`
	// Source URL the asset is downloaded from.
	// example: https://models.example.com/gemma-2b-q4.bin
	URL string `json:"url" yaml:"url" toml:"url" example:"https://models.example.com/gemma-2b-q4.bin"`
	// Declared size in bytes. Progress math trusts this value, not the
	// transport headers.
	// example: 1254023168
	SizeBytes int64 `json:"size_bytes" yaml:"size_bytes" toml:"size_bytes" example:"1254023168"`
	// Declared input modalities (text, or text+vision+audio).
	Capabilities []Capability `json:"capabilities" yaml:"capabilities" toml:"capabilities"`
	// Quantization level or variant string.
	// example: q4
	Quant string `json:"quant,omitempty" yaml:"quant" toml:"quant" example:"q4"`
}

// Multimodal reports whether the entry declares more than one modality.
func (e CatalogEntry) Multimodal() bool { return len(e.Capabilities) > 1 }

// DownloadProgress is a point-in-time view of an asset download.
// Invariants: Loaded <= Total after clamping, 0 <= Percentage <= 100,
// ETASeconds >= 0.
type DownloadProgress struct {
	// Bytes received so far.
	// example: 52428800
	LoadedBytes int64 `json:"loaded_bytes" example:"52428800"`
	// Catalog-declared total in bytes.
	// example: 1254023168
	TotalBytes int64 `json:"total_bytes" example:"1254023168"`
	// Completion percentage, clamped to [0, 100].
	// example: 4.18
	Percentage float64 `json:"percentage" example:"4.18"`
	// Average download speed in bytes per second.
	// example: 10485760
	SpeedBPS float64 `json:"speed_bps" example:"10485760"`
	// Estimated seconds remaining; 0 when speed or remaining is 0.
	// example: 114.6
	ETASeconds float64 `json:"eta_seconds" example:"114.6"`
}

// PartType tags one element of a multimodal prompt.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
	PartAudio PartType = "audio"
	PartVideo PartType = "video"
)

// Part is one element of an ordered multimodal prompt. Text parts carry
// Text; media parts carry a Source reference the backend resolves.
type Part struct {
	Type PartType `json:"type"`
	// Text content, for text parts.
	Text string `json:"text,omitempty"`
	// Media source reference (file path or URL), for image/audio/video parts.
	Source string `json:"source,omitempty"`
}

// TextPart builds a text prompt part.
func TextPart(s string) Part { return Part{Type: PartText, Text: s} }

// GenerationOptions are the sampling knobs shared by all generate paths.
type GenerationOptions struct {
	// Maximum number of new tokens to generate.
	// example: 256
	MaxTokens int `json:"max_tokens,omitempty" example:"256"`
	// Sampling temperature (higher = more random).
	// example: 0.8
	Temperature float64 `json:"temperature,omitempty" example:"0.8"`
	// Nucleus sampling probability.
	// example: 0.95
	TopP float64 `json:"top_p,omitempty" example:"0.95"`
	// Top-K sampling: limit candidates to top K tokens.
	// example: 40
	TopK int `json:"top_k,omitempty" example:"40"`
	// Random seed for reproducibility; 0 lets the backend choose.
	// example: 42
	Seed int64 `json:"seed,omitempty" example:"42"`
}

// GenerationMetadata is the telemetry computed for one completed generate
// call. Token counts come from a shared word/character heuristic, not a real
// tokenizer. The per-modality processing times measure prompt-assembly spans,
// not decode time, and are only present when that modality appeared in the
// request.
type GenerationMetadata struct {
	// Estimated output tokens per second; 0 when total time is 0.
	// example: 34.2
	TokensPerSecond float64 `json:"tokens_per_second" example:"34.2"`
	// Time to first token in ms. Measured in streaming mode; a capped
	// approximation in single-shot mode.
	// example: 182
	ResponseLatencyMs float64 `json:"response_latency_ms" example:"182"`
	// Wall-clock time of the whole generate call in ms.
	// example: 2412
	TotalGenerationTimeMs float64 `json:"total_generation_time_ms" example:"2412"`
	// Estimated tokens in the generated text.
	// example: 83
	TotalTokens int `json:"total_tokens" example:"83"`
	// Estimated tokens in the prompt.
	// example: 12
	InputTokens int `json:"input_tokens" example:"12"`
	// Model (catalog entry) that served the request.
	// example: gemma-2b-q4
	Model string `json:"model" example:"gemma-2b-q4"`
	// Sampling parameters the call ran with.
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`

	// Multimodal aggregates; zero values are omitted for text-only calls.
	ImageCount int `json:"image_count,omitempty"`
	AudioCount int `json:"audio_count,omitempty"`
	VideoCount int `json:"video_count,omitempty"`
	// Resolution tag attached when at least one image part was present.
	// example: 512x512
	ImageResolution string `json:"image_resolution,omitempty" example:"512x512"`
	// Prompt-assembly spans per modality, in ms.
	ImageProcessingMs float64 `json:"image_processing_ms,omitempty"`
	AudioProcessingMs float64 `json:"audio_processing_ms,omitempty"`
	VideoProcessingMs float64 `json:"video_processing_ms,omitempty"`
}

// GenerationResult is the terminal outcome of a generate call.
type GenerationResult struct {
	// Final generated text.
	Text string `json:"text"`
	// Telemetry for the call.
	Metadata GenerationMetadata `json:"metadata"`
}

// StreamEvent is one NDJSON line of a streaming generate call. Text is
// cumulative: every event carries the whole text generated so far. Exactly
// one event has Done=true and it is the only one carrying Metadata.
type StreamEvent struct {
	Text     string              `json:"text"`
	Done     bool                `json:"done"`
	Metadata *GenerationMetadata `json:"metadata,omitempty"`
}
