package quota

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for quota tracking.
var (
	quotaRequestsUsed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "postaudit_quota_requests_used",
		Help: "Provider requests billed against the current anchor day",
	})

	quotaHaltsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "postaudit_quota_halts_total",
		Help: "Total number of times the safety threshold halted the run",
	})
)

// ErrQuotaExhausted signals that the safety threshold has been reached.
// It is a pipeline-level stop signal, not a retryable call failure.
var ErrQuotaExhausted = errors.New("daily quota safety threshold reached")

// Config holds ledger construction parameters.
type Config struct {
	// FilePath is the persisted ledger record location.
	FilePath string

	// HardDailyLimit is the provider's enforced requests-per-day limit.
	HardDailyLimit int

	// SafetyThreshold is the local stop point, at or below HardDailyLimit.
	// The margin absorbs clock drift and counting races against the
	// provider's server-side counter.
	SafetyThreshold int

	// AnchorTimezone is the IANA name of the provider's quota reset zone.
	AnchorTimezone string
}

// Ledger tracks daily provider usage across process restarts.
//
// The backing file is owned by exactly one live process; within a process
// the ledger is mutated only by the sequential batch worker.
type Ledger struct {
	path            string
	hardDailyLimit  int
	safetyThreshold int
	anchor          *time.Location
	logger          zerolog.Logger
	state           State
}

// NewLedger loads the persisted state, falling back to a fresh zero-count
// state for today when the file is missing or unreadable.
func NewLedger(cfg Config, logger zerolog.Logger) (*Ledger, error) {
	loc, err := time.LoadLocation(cfg.AnchorTimezone)
	if err != nil {
		return nil, fmt.Errorf("load anchor timezone %q: %w", cfg.AnchorTimezone, err)
	}

	l := &Ledger{
		path:            cfg.FilePath,
		hardDailyLimit:  cfg.HardDailyLimit,
		safetyThreshold: cfg.SafetyThreshold,
		anchor:          loc,
		logger:          logger,
	}
	l.state = l.loadOrCreateState()
	quotaRequestsUsed.Set(float64(l.state.RequestCount))

	return l, nil
}

func (l *Ledger) loadOrCreateState() State {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn().Err(err).Str("path", l.path).
				Msg("Failed to read quota state, starting fresh")
		} else {
			l.logger.Info().Str("path", l.path).
				Msg("No existing quota file, creating new state")
		}
		return State{AnchorDate: l.today(), RequestCount: 0}
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil || state.AnchorDate == "" || state.RequestCount < 0 {
		l.logger.Warn().Err(err).Str("path", l.path).
			Msg("Corrupt quota state, starting fresh")
		return State{AnchorDate: l.today(), RequestCount: 0}
	}

	l.logger.Info().
		Int("requests_used", state.RequestCount).
		Str("anchor_date", state.AnchorDate).
		Msg("Loaded quota state")

	return state
}

// today returns the current calendar date in the anchor timezone.
func (l *Ledger) today() string {
	return time.Now().In(l.anchor).Format(DateLayout)
}

// rolloverIfNewDay lazily resets the counter when the anchor-timezone date
// has changed since the state was persisted.
func (l *Ledger) rolloverIfNewDay() {
	today := l.today()
	if today == l.state.AnchorDate {
		return
	}

	l.logger.Info().
		Str("previous_date", l.state.AnchorDate).
		Int("previous_count", l.state.RequestCount).
		Str("anchor_date", today).
		Msg("New anchor day, resetting quota")

	l.state = State{AnchorDate: today, RequestCount: 0}
	l.persist()
	quotaRequestsUsed.Set(0)
}

func (l *Ledger) persist() {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			l.logger.Error().Err(err).Str("path", l.path).Msg("Failed to create quota directory")
			return
		}
	}

	data, err := json.MarshalIndent(l.state, "", "  ")
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to marshal quota state")
		return
	}

	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		l.logger.Error().Err(err).Str("path", l.path).Msg("Failed to save quota state")
		return
	}

	l.logger.Debug().
		Int("requests_used", l.state.RequestCount).
		Str("anchor_date", l.state.AnchorDate).
		Msg("Saved quota state")
}

// CheckQuota returns ErrQuotaExhausted when the safety threshold has been
// reached for the current anchor day. A warning is logged from 90% of the
// threshold onward for visibility before the stop.
func (l *Ledger) CheckQuota() error {
	l.rolloverIfNewDay()

	if l.state.RequestCount >= l.safetyThreshold {
		quotaHaltsTotal.Inc()

		l.logger.Error().
			Int("requests_used", l.state.RequestCount).
			Int("safety_threshold", l.safetyThreshold).
			Int("hard_daily_limit", l.hardDailyLimit).
			Str("resets", l.ResetTimeDescription()).
			Msg("Safety threshold reached - no further calls today")

		return fmt.Errorf("%w: %d/%d requests used, resets %s",
			ErrQuotaExhausted, l.state.RequestCount, l.safetyThreshold, l.ResetTimeDescription())
	}

	warningPoint := int(float64(l.safetyThreshold) * warningFraction)
	if l.state.RequestCount >= warningPoint {
		l.logger.Warn().
			Int("requests_used", l.state.RequestCount).
			Int("safety_threshold", l.safetyThreshold).
			Msg("Approaching safety threshold")
	}

	return nil
}

// IncrementRequestCount bills one call against the current anchor day and
// persists the updated state.
func (l *Ledger) IncrementRequestCount() {
	l.rolloverIfNewDay()

	l.state.RequestCount++
	l.persist()
	quotaRequestsUsed.Set(float64(l.state.RequestCount))

	l.logger.Debug().
		Int("requests_used", l.state.RequestCount).
		Int("remaining", l.Remaining()).
		Msg("Quota updated")
}

// Remaining returns the calls left before the safety threshold, never
// negative even after over-incrementing.
func (l *Ledger) Remaining() int {
	l.rolloverIfNewDay()
	return max(0, l.safetyThreshold-l.state.RequestCount)
}

// RequestCount returns the calls billed against the current anchor day.
func (l *Ledger) RequestCount() int {
	l.rolloverIfNewDay()
	return l.state.RequestCount
}

// AnchorDate returns the calendar date the current count belongs to.
func (l *Ledger) AnchorDate() string {
	l.rolloverIfNewDay()
	return l.state.AnchorDate
}

// ResetTimeDescription returns a human-readable description of the next
// anchor-timezone midnight, e.g. "midnight America/Los_Angeles (in 7h30m)".
func (l *Ledger) ResetTimeDescription() string {
	now := time.Now().In(l.anchor)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, l.anchor).AddDate(0, 0, 1)

	until := midnight.Sub(now).Round(time.Minute)
	return fmt.Sprintf("midnight %s (in %s)", l.anchor.String(), until)
}
