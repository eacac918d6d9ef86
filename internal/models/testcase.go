package models

import "time"

// CaseStatus represents the state of a single test case within a run.
type CaseStatus string

const (
	CaseStatusPending CaseStatus = "pending"
	CaseStatusRunning CaseStatus = "running"
	CaseStatusPass    CaseStatus = "pass"
	CaseStatusFail    CaseStatus = "fail"
	CaseStatusSkipped CaseStatus = "skipped"
	CaseStatusBlocked CaseStatus = "blocked"
)

// Terminal reports whether the status ends a case's lifecycle.
func (s CaseStatus) Terminal() bool {
	switch s {
	case CaseStatusPass, CaseStatusFail, CaseStatusSkipped, CaseStatusBlocked:
		return true
	}
	return false
}

// BugSeverity grades a bug found by a failing case.
type BugSeverity string

const (
	BugSeverityLow      BugSeverity = "low"
	BugSeverityMedium   BugSeverity = "medium"
	BugSeverityHigh     BugSeverity = "high"
	BugSeverityCritical BugSeverity = "critical"
)

// TestCase is one test within a run. OrderIndex is immutable after creation.
// StartedAt is set on the first transition into running, FinishedAt on the
// first transition into any terminal status; neither is ever overwritten.
type TestCase struct {
	ID             string
	RunID          string
	OrderIndex     int
	Name           string
	Expected       string
	Actual         string
	Status         CaseStatus
	BugDescription string
	BugSeverity    BugSeverity
	DurationMS     int64
	Notes          string
	StartedAt      *time.Time
	FinishedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Screenshot is an image artifact captured during a case. IsFailure is fixed
// at creation from the case's status at that instant and never re-evaluated.
type Screenshot struct {
	ID        string
	CaseID    string
	URL       string
	Caption   string
	IsFailure bool
	CreatedAt time.Time
}

// Recording is a video artifact owned by a case.
type Recording struct {
	ID        string
	CaseID    string
	URL       string
	CreatedAt time.Time
}
