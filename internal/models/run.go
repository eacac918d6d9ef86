package models

import "time"

// RunStatus represents the state of a test run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusPassed    RunStatus = "passed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusTimedOut  RunStatus = "timed_out"
)

// Terminal reports whether no further transition is expected from the status.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusPassed, RunStatusFailed, RunStatusCancelled, RunStatusTimedOut:
		return true
	}
	return false
}

// Run is one execution attempt against a commit, containing an ordered set of
// test cases. TotalTests is fixed at creation; Passed/Failed/Skipped are
// supplied by the reporting agent at completion, not recomputed from cases.
type Run struct {
	ID            string
	AgentID       string
	Status        RunStatus
	CommitSHA     string
	CommitMessage string
	TotalTests    int
	Passed        int
	Failed        int
	Skipped       int
	DurationMS    int64
	StartedAt     time.Time
	FinishedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
