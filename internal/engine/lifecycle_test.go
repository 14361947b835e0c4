package engine

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

func TestPhaseAt(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	check.Equal(t, PhaseScheduled, PhaseAt(start.Add(-time.Second), start, end))
	// 边界：startTime 当刻即 Active，endTime 当刻即 Ended
	check.Equal(t, PhaseActive, PhaseAt(start, start, end))
	check.Equal(t, PhaseActive, PhaseAt(end.Add(-time.Nanosecond), start, end))
	check.Equal(t, PhaseEnded, PhaseAt(end, start, end))
	check.Equal(t, PhaseEnded, PhaseAt(end.Add(time.Hour), start, end))
}

func TestPhaseString(t *testing.T) {
	check.Equal(t, "scheduled", PhaseScheduled.String())
	check.Equal(t, "active", PhaseActive.String())
	check.Equal(t, "ended", PhaseEnded.String())
}
