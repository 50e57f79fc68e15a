package fetch

import (
	"time"

	"inferd/pkg/types"
)

// ProgressFunc observes download progress. It is invoked once with a zero
// snapshot before the first byte arrives and then after every chunk.
type ProgressFunc func(types.DownloadProgress)

// progressTracker recomputes the progress snapshot after each chunk. Total
// is the catalog-declared size, not a transport header, so percentage can be
// off when the catalog is wrong; it is clamped either way.
type progressTracker struct {
	start  time.Time
	total  int64
	loaded int64
}

func newProgressTracker(total int64) *progressTracker {
	return &progressTracker{start: time.Now(), total: total}
}

func (p *progressTracker) add(n int64) { p.loaded += n }

func (p *progressTracker) snapshot() types.DownloadProgress {
	elapsed := time.Since(p.start).Seconds()
	var speed float64
	if elapsed > 0 {
		speed = float64(p.loaded) / elapsed
	}
	var pct float64
	if p.total > 0 {
		pct = float64(p.loaded) / float64(p.total) * 100
	}
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	remaining := p.total - p.loaded
	var eta float64
	if speed > 0 && remaining > 0 {
		eta = float64(remaining) / speed
	}
	loaded := p.loaded
	if p.total > 0 && loaded > p.total {
		loaded = p.total
	}
	return types.DownloadProgress{
		LoadedBytes: loaded,
		TotalBytes:  p.total,
		Percentage:  pct,
		SpeedBPS:    speed,
		ETASeconds:  eta,
	}
}
