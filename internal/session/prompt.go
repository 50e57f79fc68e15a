package session

import (
	"time"

	"inferd/pkg/types"
)

// Role-turn delimiters wrapped around every prompt before it reaches the
// backend.
const (
	userTurnOpen  = "<start_of_turn>user\n"
	turnClose     = "<end_of_turn>\n"
	modelTurnOpen = "<start_of_turn>model\n"
)

// textPrompt wraps a flat prompt in role-turn delimiters as a single part.
func textPrompt(prompt string) []types.Part {
	return []types.Part{types.TextPart(userTurnOpen + prompt + turnClose + modelTurnOpen)}
}

// modalitySpans aggregates prompt-assembly wall-clock per media type. These
// are enqueue costs, not decode times, and are labeled as approximations in
// the resulting telemetry.
type modalitySpans struct {
	imageMs, audioMs, videoMs float64
	images, audios, videos    int
}

// assembleMultimodal builds the ordered backend prompt: role-open marker,
// each part in input order (text verbatim, media as typed references), then
// the close/model markers. The span around each media append is measured.
func assembleMultimodal(parts []types.Part) ([]types.Part, modalitySpans) {
	var spans modalitySpans
	out := make([]types.Part, 0, len(parts)+2)
	out = append(out, types.TextPart(userTurnOpen))
	for _, p := range parts {
		begin := time.Now()
		out = append(out, p)
		elapsed := float64(time.Since(begin).Nanoseconds()) / 1e6
		switch p.Type {
		case types.PartImage:
			spans.images++
			spans.imageMs += elapsed
		case types.PartAudio:
			spans.audios++
			spans.audioMs += elapsed
		case types.PartVideo:
			spans.videos++
			spans.videoMs += elapsed
		}
	}
	out = append(out, types.TextPart(turnClose+modelTurnOpen))
	return out, spans
}

// promptText extracts the text content of a parts list for token estimation.
func promptText(parts []types.Part) string {
	var s string
	for _, p := range parts {
		if p.Type == types.PartText {
			s += p.Text
		}
	}
	return s
}
