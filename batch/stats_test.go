package batch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sevigo/lmbatch/batch"
)

func TestStatsSuccessRate(t *testing.T) {
	tests := []struct {
		name      string
		processed int
		total     int
		want      float64
	}{
		{name: "partial", processed: 4, total: 5, want: 80},
		{name: "all processed", processed: 5, total: 5, want: 100},
		{name: "none processed", processed: 0, total: 5, want: 0},
		{name: "empty batch", processed: 0, total: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := batch.Stats{TotalFiles: tt.total, ProcessedFiles: tt.processed}
			assert.InDelta(t, tt.want, s.SuccessRate(), 1e-9)
		})
	}
}

func TestStatsElapsed(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s := batch.Stats{StartedAt: start, FinishedAt: start.Add(10 * time.Second)}
	assert.Equal(t, 10*time.Second, s.Elapsed())

	running := batch.Stats{StartedAt: time.Now().Add(-time.Second)}
	assert.Greater(t, running.Elapsed(), time.Duration(0), "unfinished runs report time so far")
}

func TestStatsAveragePerFile(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s := batch.Stats{
		StartedAt:      start,
		FinishedAt:     start.Add(10 * time.Second),
		ProcessedFiles: 4,
	}
	assert.Equal(t, 2500*time.Millisecond, s.AveragePerFile())

	none := batch.Stats{
		StartedAt:  start,
		FinishedAt: start.Add(10 * time.Second),
	}
	assert.Equal(t, 10*time.Second, none.AveragePerFile(), "zero processed files never divides by zero")
}
