package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/arielsync/internal/models"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func TestPlan(t *testing.T) {
	tests := []struct {
		name   string
		stop   time.Time
		d      time.Duration
		starts []time.Duration
	}{
		{"exact multiple includes window starting at stop", t0.Add(time.Hour), 15 * time.Minute, []time.Duration{0, 15 * time.Minute, 30 * time.Minute, 45 * time.Minute, time.Hour}},
		{"last window overshoots stop", t0.Add(50 * time.Minute), 15 * time.Minute, []time.Duration{0, 15 * time.Minute, 30 * time.Minute, 45 * time.Minute}},
		{"stop equals initial", t0, time.Hour, []time.Duration{0}},
		{"stop before initial", t0.Add(-time.Minute), time.Hour, nil},
		{"zero duration", t0.Add(time.Hour), 0, nil},
		{"negative duration", t0.Add(time.Hour), -time.Minute, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Windows(t0, tt.stop, tt.d)
			require.Len(t, got, len(tt.starts))
			for i, off := range tt.starts {
				assert.Equal(t, t0.Add(off), got[i].Start, "window %d start", i)
				assert.Equal(t, tt.d, got[i].Duration(), "window %d duration", i)
			}
		})
	}
}

func TestPlanWindowsContiguous(t *testing.T) {
	ws := Windows(t0, t0.Add(24*time.Hour), 15*time.Minute)
	require.Len(t, ws, 97)
	for i := 1; i < len(ws); i++ {
		assert.Equal(t, ws[i-1].Stop, ws[i].Start, "gap or overlap at %d", i)
	}
	assert.True(t, ws[len(ws)-1].Stop.After(t0.Add(24*time.Hour)))
}

func TestPlanRestartable(t *testing.T) {
	seq := Plan(t0, t0.Add(time.Hour), 30*time.Minute)

	var first, second []models.TimeWindow
	for w := range seq {
		first = append(first, w)
	}
	for w := range seq {
		second = append(second, w)
	}
	assert.Equal(t, first, second)
}

func TestPlanEarlyBreak(t *testing.T) {
	n := 0
	for range Plan(t0, t0.Add(10*time.Hour), time.Minute) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 15*time.Minute, Duration(models.ClassShort, 15*time.Minute, time.Hour))
	assert.Equal(t, time.Hour, Duration(models.ClassLong, 15*time.Minute, time.Hour))
}
