package main

import (
	"testing"

	"github.com/KI7MT/aqs-ozone/internal/common"
)

func TestRunHistory_FailureIsSticky(t *testing.T) {
	var h runHistory
	stats := common.NewStats()

	stats.SitesFailed.Add(1)
	h.record(stats)

	stats.Reset()
	stats.SitesWritten.Add(2)
	h.record(stats)

	if got := h.exitCode(false); got != 1 {
		t.Errorf("exitCode() = %d, want 1 after a failed run", got)
	}
	if h.runs.Load() != 2 || h.failedRuns.Load() != 1 {
		t.Errorf("runs = %d, failedRuns = %d, want 2, 1", h.runs.Load(), h.failedRuns.Load())
	}
}

func TestRunHistory_ExitCode(t *testing.T) {
	tests := []struct {
		name        string
		failed      bool
		interrupted bool
		want        int
	}{
		{"clean", false, false, 0},
		{"failed site", true, false, 1},
		{"interrupted", false, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h runHistory
			stats := common.NewStats()
			if tt.failed {
				stats.SitesFailed.Add(1)
			}
			h.record(stats)
			if got := h.exitCode(tt.interrupted); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.interrupted, got, tt.want)
			}
		})
	}
}
