// Package runs implements the run/test-case state machine: atomic run+case
// creation, partial case patches with idempotent timestamping, and terminal
// completion that resets the owning agent.
package runs

import (
	"context"
	"fmt"
	"time"

	"github.com/agentboard/agentboard/internal/auth"
	"github.com/agentboard/agentboard/internal/core"
	"github.com/agentboard/agentboard/internal/models"
	"github.com/agentboard/agentboard/internal/store"
)

// Service governs run and case transitions over the store.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates a run service.
func NewService(s store.Store) *Service {
	return &Service{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// CaseSpec describes one case at run creation.
type CaseSpec struct {
	Name     string
	Expected string
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	AgentID       string
	CommitSHA     string
	CommitMessage string
	Cases         []CaseSpec
}

// Create allocates a run directly in running state with its cases pending,
// all in one transaction. The queued state exists in the model but is not
// reached by this path.
func (s *Service) Create(ctx context.Context, p auth.Principal, params CreateParams) (*models.Run, []*models.TestCase, error) {
	var bad []string
	if params.AgentID == "" {
		bad = append(bad, "agent_id")
	}
	if len(params.Cases) == 0 {
		bad = append(bad, "cases")
	}
	for _, spec := range params.Cases {
		if spec.Name == "" {
			bad = append(bad, "cases[].name")
			break
		}
	}
	if len(bad) > 0 {
		return nil, nil, core.Invalid(bad...)
	}

	agent, err := s.store.GetAgent(ctx, params.AgentID)
	if err != nil {
		return nil, nil, err
	}
	if !p.CanActFor(agent.ID) {
		return nil, nil, fmt.Errorf("create run for agent %s: %w", agent.ID, core.ErrForbidden)
	}

	now := s.now()
	run := &models.Run{
		AgentID:       agent.ID,
		Status:        models.RunStatusRunning,
		CommitSHA:     params.CommitSHA,
		CommitMessage: params.CommitMessage,
		TotalTests:    len(params.Cases),
		StartedAt:     now,
	}
	cases := make([]*models.TestCase, len(params.Cases))
	for i, spec := range params.Cases {
		cases[i] = &models.TestCase{
			OrderIndex: i,
			Name:       spec.Name,
			Expected:   spec.Expected,
			Status:     models.CaseStatusPending,
		}
	}

	if err := s.store.CreateRunWithCases(ctx, run, cases); err != nil {
		return nil, nil, err
	}
	return run, cases, nil
}

// ScreenshotSpec describes a screenshot uploaded with a case patch.
type ScreenshotSpec struct {
	URL     string
	Caption string
}

// CasePatch is a partial update: nil fields are left untouched.
type CasePatch struct {
	Status         *models.CaseStatus
	Actual         *string
	BugDescription *string
	BugSeverity    *models.BugSeverity
	DurationMS     *int64
	Notes          *string
	Screenshots    []ScreenshotSpec
	RecordingURL   *string
}

func validCaseStatus(st models.CaseStatus) bool {
	switch st {
	case models.CaseStatusPending, models.CaseStatusRunning, models.CaseStatusPass,
		models.CaseStatusFail, models.CaseStatusSkipped, models.CaseStatusBlocked:
		return true
	}
	return false
}

// UpdateCase applies a partial patch to a case. Entering running sets
// started_at only if unset; entering any terminal status sets finished_at only
// if unset. Screenshots and recording, if supplied, are created in the same
// transaction; a screenshot's failure flag equals (status == fail) evaluated
// at this call.
func (s *Service) UpdateCase(ctx context.Context, p auth.Principal, caseID string, patch CasePatch) (*models.TestCase, error) {
	if patch.Status != nil && !validCaseStatus(*patch.Status) {
		return nil, core.Invalid("status")
	}

	tc, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	run, err := s.store.GetRun(ctx, tc.RunID)
	if err != nil {
		return nil, err
	}
	if !p.CanActFor(run.AgentID) {
		return nil, fmt.Errorf("update case %s: %w", caseID, core.ErrForbidden)
	}

	now := s.now()
	if patch.Status != nil {
		tc.Status = *patch.Status
		if *patch.Status == models.CaseStatusRunning && tc.StartedAt == nil {
			tc.StartedAt = &now
		}
		if patch.Status.Terminal() && tc.FinishedAt == nil {
			tc.FinishedAt = &now
		}
	}
	if patch.Actual != nil {
		tc.Actual = *patch.Actual
	}
	if patch.BugDescription != nil {
		tc.BugDescription = *patch.BugDescription
	}
	if patch.BugSeverity != nil {
		tc.BugSeverity = *patch.BugSeverity
	}
	if patch.DurationMS != nil {
		tc.DurationMS = *patch.DurationMS
	}
	if patch.Notes != nil {
		tc.Notes = *patch.Notes
	}

	// Snapshot from the case's status as of this patch, so a screenshot
	// uploaded in a later status-less patch still records the failure.
	isFailure := tc.Status == models.CaseStatusFail
	var shots []*models.Screenshot
	for _, spec := range patch.Screenshots {
		shots = append(shots, &models.Screenshot{
			URL:       spec.URL,
			Caption:   spec.Caption,
			IsFailure: isFailure,
		})
	}
	var rec *models.Recording
	if patch.RecordingURL != nil {
		rec = &models.Recording{URL: *patch.RecordingURL}
	}

	if err := s.store.UpdateCaseWithArtifacts(ctx, tc, shots, rec); err != nil {
		return nil, err
	}
	return tc, nil
}

// Complete writes a run's terminal fields, computes duration server-side, and
// resets the owning agent to online with a refreshed heartbeat, in one
// transaction. Completing an already-terminal run is rejected.
func (s *Service) Complete(ctx context.Context, p auth.Principal, runID string, terminal models.RunStatus, passed, failed, skipped int) (*models.Run, error) {
	var bad []string
	if !terminal.Terminal() {
		bad = append(bad, "status")
	}
	if passed < 0 {
		bad = append(bad, "passed")
	}
	if failed < 0 {
		bad = append(bad, "failed")
	}
	if skipped < 0 {
		bad = append(bad, "skipped")
	}
	if len(bad) > 0 {
		return nil, core.Invalid(bad...)
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !p.CanActFor(run.AgentID) {
		return nil, fmt.Errorf("complete run %s: %w", runID, core.ErrForbidden)
	}
	if run.Status.Terminal() {
		return nil, fmt.Errorf("run %s is already %s: %w", runID, run.Status, core.ErrConflict)
	}

	agent, err := s.store.GetAgent(ctx, run.AgentID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	run.Status = terminal
	run.Passed = passed
	run.Failed = failed
	run.Skipped = skipped
	run.DurationMS = now.Sub(run.StartedAt).Milliseconds()
	run.FinishedAt = &now

	agent.Status = models.AgentStatusOnline
	agent.CurrentTask = ""
	agent.LastHeartbeat = now

	if err := s.store.CompleteRun(ctx, run, agent); err != nil {
		return nil, err
	}
	return run, nil
}
