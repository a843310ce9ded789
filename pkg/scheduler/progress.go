package scheduler

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Progress logging cadence.
const (
	progressLogEvery    = 10
	progressLogInterval = 30 * time.Second
)

// progress tracks and logs run progress with rate and ETA estimates.
type progress struct {
	total     int
	processed int
	startTime time.Time
	lastLog   time.Time
	logger    zerolog.Logger
}

func newProgress(logger zerolog.Logger) *progress {
	return &progress{logger: logger}
}

func (p *progress) start(total int) {
	p.total = total
	p.processed = 0
	p.startTime = time.Now()
	p.lastLog = p.startTime

	p.logger.Info().Int("total", total).Msg("Progress tracking started")
}

func (p *progress) increment() {
	p.processed++

	if p.shouldLog() {
		p.logProgress()
		p.lastLog = time.Now()
	}
}

func (p *progress) complete() {
	p.logProgress()

	p.logger.Info().
		Str("duration", formatDuration(time.Since(p.startTime))).
		Msg("Processing complete")
}

func (p *progress) shouldLog() bool {
	if p.processed%progressLogEvery == 0 {
		return true
	}
	return time.Since(p.lastLog) >= progressLogInterval
}

func (p *progress) logProgress() {
	if p.total == 0 {
		return
	}

	percent := float64(p.processed) * 100 / float64(p.total)
	elapsed := time.Since(p.startTime)

	rate := 0.0
	if minutes := elapsed.Minutes(); minutes > 0 {
		rate = float64(p.processed) / minutes
	}

	p.logger.Info().
		Int("processed", p.processed).
		Int("total", p.total).
		Str("percent", fmt.Sprintf("%.1f%%", percent)).
		Str("rate", fmt.Sprintf("%.1f posts/min", rate)).
		Str("eta", p.eta(rate)).
		Msg("Progress")
}

func (p *progress) eta(rate float64) string {
	remaining := p.total - p.processed
	if rate <= 0 || remaining <= 0 {
		return "calculating..."
	}

	return formatDuration(time.Duration(float64(remaining)/rate*float64(time.Minute)))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
