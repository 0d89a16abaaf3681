package batch

import (
	"time"

	"github.com/sevigo/lmbatch/budget"
)

// Stats are the batch-wide counters. They are owned by the run's
// consumer loop; callers only ever see finished copies inside Summary.
type Stats struct {
	TotalFiles     int
	ProcessedFiles int
	FailedFiles    int
	TotalTokens    int
	StartedAt      time.Time
	FinishedAt     time.Time
	Errors         []string
}

// appendError records a failure message up to the configured cap. The
// failed-file counter is not capped, only the stored messages are.
func (s *Stats) appendError(limit int, msg string) {
	if limit <= 0 || len(s.Errors) < limit {
		s.Errors = append(s.Errors, msg)
	}
}

// Elapsed is the wall-clock duration of the run so far, or of the
// whole run once finished.
func (s Stats) Elapsed() time.Duration {
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// SuccessRate is processed files over total files as a percentage.
func (s Stats) SuccessRate() float64 {
	if s.TotalFiles == 0 {
		return 0
	}
	return float64(s.ProcessedFiles) / float64(s.TotalFiles) * 100
}

// AveragePerFile is the elapsed time divided by the processed count,
// never dividing by zero.
func (s Stats) AveragePerFile() time.Duration {
	return s.Elapsed() / time.Duration(max(s.ProcessedFiles, 1))
}

// FileSummary is the per-file view of a finished run.
type FileSummary struct {
	Name    string
	State   State
	Outcome budget.Outcome
	Chunks  int
	Tokens  int
	Outputs []string
	Err     string
}

// Summary is the complete record of one batch run.
type Summary struct {
	RunID string
	Stats
	Files []FileSummary
}
