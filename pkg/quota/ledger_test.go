package quota

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLedger(t *testing.T, hardLimit, threshold int) *Ledger {
	t.Helper()

	l, err := NewLedger(Config{
		FilePath:        filepath.Join(t.TempDir(), "daily_quota.json"),
		HardDailyLimit:  hardLimit,
		SafetyThreshold: threshold,
		AnchorTimezone:  "America/Los_Angeles",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLedger() error = %v", err)
	}

	return l
}

func TestNewLedger_InvalidTimezone(t *testing.T) {
	_, err := NewLedger(Config{
		FilePath:        filepath.Join(t.TempDir(), "daily_quota.json"),
		HardDailyLimit:  1000,
		SafetyThreshold: 950,
		AnchorTimezone:  "Not/AZone",
	}, zerolog.Nop())

	if err == nil {
		t.Fatal("NewLedger() should fail for an unknown timezone")
	}
}

func TestLedger_CheckQuota(t *testing.T) {
	tests := []struct {
		name       string
		increments int
		exhausted  bool
	}{
		{name: "fresh ledger allows requests", increments: 0, exhausted: false},
		{name: "one below threshold allows requests", increments: 949, exhausted: false},
		{name: "at threshold signals exhaustion", increments: 950, exhausted: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(t, 1000, 950)
			for i := 0; i < tt.increments; i++ {
				l.IncrementRequestCount()
			}

			err := l.CheckQuota()
			if tt.exhausted {
				if !errors.Is(err, ErrQuotaExhausted) {
					t.Errorf("CheckQuota() = %v, want ErrQuotaExhausted", err)
				}
			} else if err != nil {
				t.Errorf("CheckQuota() = %v, want nil", err)
			}
		})
	}
}

func TestLedger_RemainingNeverNegative(t *testing.T) {
	l := newTestLedger(t, 10, 5)

	// Over-increment past the threshold
	for i := 0; i < 8; i++ {
		l.IncrementRequestCount()
	}

	if remaining := l.Remaining(); remaining != 0 {
		t.Errorf("Remaining() = %d, want 0", remaining)
	}
}

func TestLedger_PersistsAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daily_quota.json")
	cfg := Config{
		FilePath:        path,
		HardDailyLimit:  1000,
		SafetyThreshold: 950,
		AnchorTimezone:  "America/Los_Angeles",
	}

	l, err := NewLedger(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLedger() error = %v", err)
	}
	l.IncrementRequestCount()
	l.IncrementRequestCount()
	l.IncrementRequestCount()

	reloaded, err := NewLedger(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLedger() reload error = %v", err)
	}

	if reloaded.RequestCount() != 3 {
		t.Errorf("RequestCount() after reload = %d, want 3", reloaded.RequestCount())
	}
}

func TestLedger_DayRollover(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daily_quota.json")

	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("LoadLocation() error = %v", err)
	}
	yesterday := time.Now().In(loc).AddDate(0, 0, -1).Format(DateLayout)

	stale, err := json.Marshal(State{AnchorDate: yesterday, RequestCount: 947})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if err := os.WriteFile(path, stale, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	l, err := NewLedger(Config{
		FilePath:        path,
		HardDailyLimit:  1000,
		SafetyThreshold: 950,
		AnchorTimezone:  "America/Los_Angeles",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLedger() error = %v", err)
	}

	// Stale date is replaced by {today, 0} on first access
	if got := l.RequestCount(); got != 0 {
		t.Errorf("RequestCount() = %d, want 0 after rollover", got)
	}
	if got := l.AnchorDate(); got == yesterday {
		t.Errorf("AnchorDate() still %q after rollover", got)
	}

	// Repeated accesses on the same day must not reset again
	l.IncrementRequestCount()
	if err := l.CheckQuota(); err != nil {
		t.Errorf("CheckQuota() = %v, want nil", err)
	}
	if got := l.RequestCount(); got != 1 {
		t.Errorf("RequestCount() = %d, want 1 (rollover must be idempotent)", got)
	}
}

func TestLedger_CorruptStateStartsFresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daily_quota.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	l, err := NewLedger(Config{
		FilePath:        path,
		HardDailyLimit:  1000,
		SafetyThreshold: 950,
		AnchorTimezone:  "America/Los_Angeles",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewLedger() error = %v, corrupt state must not be fatal", err)
	}

	if got := l.RequestCount(); got != 0 {
		t.Errorf("RequestCount() = %d, want 0 for fresh state", got)
	}
}

func TestLedger_ResetTimeDescription(t *testing.T) {
	l := newTestLedger(t, 1000, 950)

	desc := l.ResetTimeDescription()
	if desc == "" {
		t.Error("ResetTimeDescription() should not be empty")
	}
}
