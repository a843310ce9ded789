package scheduler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m 30s"},
		{61 * time.Minute, "1h 1m 0s"},
		{2*time.Hour + 5*time.Minute + 3*time.Second, "2h 5m 3s"},
		{0, "0s"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.expected {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.expected)
		}
	}
}

func TestProgress_Eta(t *testing.T) {
	p := newProgress(zerolog.Nop())
	p.start(100)

	if got := p.eta(0); got != "calculating..." {
		t.Errorf("eta(0) = %q, want calculating placeholder", got)
	}

	p.processed = 50
	if got := p.eta(50); got != "1m 0s" {
		t.Errorf("eta(50/min with 50 left) = %q, want 1m 0s", got)
	}

	p.processed = 100
	if got := p.eta(50); got != "calculating..." {
		t.Errorf("eta with nothing remaining = %q", got)
	}
}
