package models

import "time"

// RunResult summarizes one orchestration run.
type RunResult struct {
	Timestamp    string
	StartTime    time.Time
	EndTime      time.Time
	EntryCount   int
	TotalCount   int
	ErrorCount   int
	FailedItems  []string
	ErrorsByType map[string]int
}

// Duration is the wall-clock time the run took.
func (r *RunResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
