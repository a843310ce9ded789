// Package pacing implements the adaptive inter-call delay governor.
// It learns the provider's tolerance from observed latency and error
// signals instead of pacing every call at a fixed worst-case delay.
package pacing

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Delay bounds and adjustment steps.
const (
	// MinDelay is the floor for the inter-call delay.
	MinDelay = 200 * time.Millisecond

	// MaxDelay is the ceiling for the inter-call delay.
	MaxDelay = 10 * time.Second

	// InitialDelay is the conservative starting delay.
	InitialDelay = 1 * time.Second

	// fastResponseThreshold marks responses fast enough to speed up after.
	fastResponseThreshold = 500 * time.Millisecond

	// slowResponseThreshold marks responses slow enough to back off after.
	slowResponseThreshold = 3 * time.Second

	speedUpAmount  = 100 * time.Millisecond
	slowDownAmount = 500 * time.Millisecond
)

// Prometheus metrics for pacing decisions.
var (
	pacingDelaySeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "postaudit_pacing_delay_seconds",
		Help: "Current adaptive inter-call delay in seconds",
	})

	pacingRateLimitBackoffsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postaudit_pacing_rate_limit_backoffs_total",
		Help: "Total number of aggressive backoffs after provider rate limiting",
	})

	pacingServerErrorBackoffsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postaudit_pacing_server_error_backoffs_total",
		Help: "Total number of moderate backoffs after provider server errors",
	})
)

// Governor owns the single adaptive inter-call delay.
//
// It is mutated only by the sequential batch worker; it performs no
// internal locking.
type Governor struct {
	delay  time.Duration
	logger zerolog.Logger
}

// NewGovernor creates a governor starting at InitialDelay.
func NewGovernor(logger zerolog.Logger) *Governor {
	pacingDelaySeconds.Set(InitialDelay.Seconds())
	return &Governor{
		delay:  InitialDelay,
		logger: logger,
	}
}

// Wait blocks for the current delay before the next provider call.
// It returns early with the context error when ctx is cancelled.
func (g *Governor) Wait(ctx context.Context) error {
	if g.delay <= 0 {
		return nil
	}

	g.logger.Debug().Dur("delay", g.delay).Msg("Waiting before next provider call")

	timer := time.NewTimer(g.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("pacing wait interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// OnSuccess adjusts the delay based on the observed response latency.
func (g *Governor) OnSuccess(latency time.Duration) {
	previous := g.delay

	switch {
	case latency < fastResponseThreshold:
		// Provider is fast and responsive - speed up
		g.delay = max(MinDelay, g.delay-speedUpAmount)
		g.logger.Debug().
			Dur("latency", latency).
			Dur("previous_delay", previous).
			Dur("delay", g.delay).
			Msg("Fast response - reducing delay")

	case latency > slowResponseThreshold:
		// Provider is slow - be more respectful
		g.delay = min(MaxDelay, g.delay+slowDownAmount)
		g.logger.Debug().
			Dur("latency", latency).
			Dur("previous_delay", previous).
			Dur("delay", g.delay).
			Msg("Slow response - increasing delay")

	default:
		g.logger.Debug().
			Dur("latency", latency).
			Dur("delay", g.delay).
			Msg("Normal response - maintaining delay")
	}

	pacingDelaySeconds.Set(g.delay.Seconds())
}

// OnRateLimited doubles the delay after an explicit rate-limit signal.
// Throttling reacts faster than the gradual additive slow-down.
func (g *Governor) OnRateLimited() {
	previous := g.delay
	g.delay = min(MaxDelay, g.delay*2)

	pacingRateLimitBackoffsTotal.Inc()
	pacingDelaySeconds.Set(g.delay.Seconds())

	g.logger.Warn().
		Dur("previous_delay", previous).
		Dur("delay", g.delay).
		Msg("Rate limit hit - backing off aggressively")
}

// OnServerError increases the delay moderately after a 5xx-class error.
func (g *Governor) OnServerError() {
	previous := g.delay
	g.delay = min(MaxDelay, g.delay+slowDownAmount)

	pacingServerErrorBackoffsTotal.Inc()
	pacingDelaySeconds.Set(g.delay.Seconds())

	g.logger.Warn().
		Dur("previous_delay", previous).
		Dur("delay", g.delay).
		Msg("Server error - backing off moderately")
}

// Reset restores the initial delay.
func (g *Governor) Reset() {
	g.logger.Debug().
		Dur("previous_delay", g.delay).
		Dur("delay", InitialDelay).
		Msg("Resetting governor")

	g.delay = InitialDelay
	pacingDelaySeconds.Set(g.delay.Seconds())
}

// CurrentDelay returns the current inter-call delay.
func (g *Governor) CurrentDelay() time.Duration {
	return g.delay
}
