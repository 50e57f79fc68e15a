package session

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"inferd/pkg/types"
)

// EstimateTokens approximates a token count without a tokenizer:
// round((wordCount + charCount/4) / 2). Whitespace-only runs contribute no
// words. Every generate path uses this one heuristic so metrics stay
// comparable across modes.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	chars := utf8.RuneCountInString(text)
	return int(math.Round((float64(words) + float64(chars)/4.0) / 2.0))
}

// TokensPerSecond is totalTokens / (totalMs/1000), 0 when totalMs is 0.
func TokensPerSecond(totalTokens int, totalMs float64) float64 {
	if totalMs <= 0 {
		return 0
	}
	return float64(totalTokens) / (totalMs / 1000.0)
}

// buildMetadata computes the telemetry shared by all generate paths.
func buildMetadata(model, prompt, output string, totalMs, latencyMs float64, opts types.GenerationOptions) types.GenerationMetadata {
	totalTokens := EstimateTokens(output)
	return types.GenerationMetadata{
		TokensPerSecond:       TokensPerSecond(totalTokens, totalMs),
		ResponseLatencyMs:     latencyMs,
		TotalGenerationTimeMs: totalMs,
		TotalTokens:           totalTokens,
		InputTokens:           EstimateTokens(prompt),
		Model:                 model,
		Temperature:           opts.Temperature,
		TopP:                  opts.TopP,
	}
}

// streamAccumulator reduces the backend's cumulative-partial callback
// protocol to a single terminal event plus metadata. It guarantees exactly
// one Done event per streaming call, with metadata only on that event.
type streamAccumulator struct {
	start      time.Time
	firstToken time.Time
	doneSent   bool
	finalText  string
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{start: time.Now()}
}

// observe records the first-token timestamp once non-empty text appears.
func (a *streamAccumulator) observe(cumulative string) {
	if a.firstToken.IsZero() && cumulative != "" {
		a.firstToken = time.Now()
	}
}

// finish marks the terminal event. It returns false if Done was already
// emitted, so duplicate completion signals from a backend are dropped.
func (a *streamAccumulator) finish(cumulative string) bool {
	if a.doneSent {
		return false
	}
	a.observe(cumulative)
	a.doneSent = true
	a.finalText = cumulative
	return true
}

// metadata computes the terminal telemetry. Latency is a true first-token
// measurement in streaming mode; when no token was ever seen it falls back
// to the full span.
func (a *streamAccumulator) metadata(model, prompt string, opts types.GenerationOptions) types.GenerationMetadata {
	totalMs := float64(time.Since(a.start).Nanoseconds()) / 1e6
	var latencyMs float64
	if !a.firstToken.IsZero() {
		latencyMs = float64(a.firstToken.Sub(a.start).Nanoseconds()) / 1e6
	} else {
		latencyMs = totalMs
	}
	return buildMetadata(model, prompt, a.finalText, totalMs, latencyMs, opts)
}
