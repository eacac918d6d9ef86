package runs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentboard/agentboard/internal/auth"
	"github.com/agentboard/agentboard/internal/core"
	"github.com/agentboard/agentboard/internal/models"
	"github.com/agentboard/agentboard/internal/store"
)

var master = auth.Principal{Kind: auth.KindMaster, Subject: "orchestrator"}

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return NewService(s), s
}

func registerAgent(t *testing.T, s store.Store, name string) *models.Agent {
	t.Helper()
	a := &models.Agent{Name: name, Token: "agt_" + name}
	require.NoError(t, s.CreateAgent(context.Background(), a))
	return a
}

func TestCreate_RunningWithPendingCases(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	a := registerAgent(t, s, "dev-agent")

	run, cases, err := svc.Create(ctx, master, CreateParams{
		AgentID:   a.ID,
		CommitSHA: "abc123def456",
		Cases: []CaseSpec{
			{Name: "login", Expected: "user lands on dashboard"},
			{Name: "checkout", Expected: "order confirmed"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, 2, run.TotalTests)
	assert.False(t, run.StartedAt.IsZero())
	require.Len(t, cases, 2)
	for i, tc := range cases {
		assert.Equal(t, models.CaseStatusPending, tc.Status)
		assert.Equal(t, i, tc.OrderIndex)
		assert.Equal(t, run.ID, tc.RunID)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Create(ctx, master, CreateParams{})
	require.Error(t, err)
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "agent_id")
	assert.Contains(t, ve.Fields, "cases")

	_, _, err = svc.Create(ctx, master, CreateParams{
		AgentID: "some-agent",
		Cases:   []CaseSpec{{Name: ""}},
	})
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "cases[].name")
}

func TestCreate_UnknownAgent(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Create(context.Background(), master, CreateParams{
		AgentID: "nope",
		Cases:   []CaseSpec{{Name: "login"}},
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCreate_ForbiddenForOtherAgent(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	a := registerAgent(t, s, "dev-agent")

	other := auth.Principal{Kind: auth.KindAgent, AgentID: "someone-else", Subject: "qa-agent"}
	_, _, err := svc.Create(ctx, other, CreateParams{
		AgentID: a.ID,
		Cases:   []CaseSpec{{Name: "login"}},
	})
	assert.ErrorIs(t, err, core.ErrForbidden)
}

func TestUpdateCase_IdempotentTimestamps(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	a := registerAgent(t, s, "dev-agent")

	_, cases, err := svc.Create(ctx, master, CreateParams{
		AgentID: a.ID,
		Cases:   []CaseSpec{{Name: "login"}},
	})
	require.NoError(t, err)
	caseID := cases[0].ID

	running := models.CaseStatusRunning
	tc, err := svc.UpdateCase(ctx, master, caseID, CasePatch{Status: &running})
	require.NoError(t, err)
	require.NotNil(t, tc.StartedAt)
	firstStart := *tc.StartedAt

	// A second running patch must not move started_at.
	svc.now = func() time.Time { return firstStart.Add(time.Minute) }
	tc, err = svc.UpdateCase(ctx, master, caseID, CasePatch{Status: &running})
	require.NoError(t, err)
	assert.True(t, tc.StartedAt.Equal(firstStart))

	fail := models.CaseStatusFail
	tc, err = svc.UpdateCase(ctx, master, caseID, CasePatch{Status: &fail})
	require.NoError(t, err)
	require.NotNil(t, tc.FinishedAt)
	firstFinish := *tc.FinishedAt

	// Re-entering a terminal status keeps the original finished_at.
	svc.now = func() time.Time { return firstFinish.Add(time.Minute) }
	skipped := models.CaseStatusSkipped
	tc, err = svc.UpdateCase(ctx, master, caseID, CasePatch{Status: &skipped})
	require.NoError(t, err)
	assert.True(t, tc.FinishedAt.Equal(firstFinish))
	assert.Equal(t, models.CaseStatusSkipped, tc.Status)
}

func TestUpdateCase_FailureScreenshotSnapshot(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	a := registerAgent(t, s, "dev-agent")

	_, cases, err := svc.Create(ctx, master, CreateParams{
		AgentID: a.ID,
		Cases:   []CaseSpec{{Name: "login"}, {Name: "checkout"}},
	})
	require.NoError(t, err)

	fail := models.CaseStatusFail
	desc := "submit button does nothing"
	sev := models.BugSeverityCritical
	_, err = svc.UpdateCase(ctx, master, cases[0].ID, CasePatch{
		Status:         &fail,
		BugDescription: &desc,
		BugSeverity:    &sev,
		Screenshots:    []ScreenshotSpec{{URL: "https://cdn.example/fail.png", Caption: "stuck"}},
		RecordingURL:   strptr("https://cdn.example/fail.webm"),
	})
	require.NoError(t, err)

	shots, err := s.ListCaseScreenshots(ctx, cases[0].ID)
	require.NoError(t, err)
	require.Len(t, shots, 1)
	assert.True(t, shots[0].IsFailure)

	recs, err := s.ListCaseRecordings(ctx, cases[0].ID)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	// A passing patch records a non-failure screenshot.
	pass := models.CaseStatusPass
	_, err = svc.UpdateCase(ctx, master, cases[1].ID, CasePatch{
		Status:      &pass,
		Screenshots: []ScreenshotSpec{{URL: "https://cdn.example/ok.png"}},
	})
	require.NoError(t, err)

	shots, err = s.ListCaseScreenshots(ctx, cases[1].ID)
	require.NoError(t, err)
	require.Len(t, shots, 1)
	assert.False(t, shots[0].IsFailure)
}

func TestUpdateCase_LateScreenshotKeepsFailureFlag(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	a := registerAgent(t, s, "dev-agent")

	_, cases, err := svc.Create(ctx, master, CreateParams{
		AgentID: a.ID,
		Cases:   []CaseSpec{{Name: "login"}},
	})
	require.NoError(t, err)

	fail := models.CaseStatusFail
	_, err = svc.UpdateCase(ctx, master, cases[0].ID, CasePatch{Status: &fail})
	require.NoError(t, err)

	// A follow-up patch carrying only the artifact still snapshots the
	// failed status the case holds at upload time.
	_, err = svc.UpdateCase(ctx, master, cases[0].ID, CasePatch{
		Screenshots: []ScreenshotSpec{{URL: "https://cdn.example/late.png", Caption: "after the fact"}},
	})
	require.NoError(t, err)

	shots, err := s.ListCaseScreenshots(ctx, cases[0].ID)
	require.NoError(t, err)
	require.Len(t, shots, 1)
	assert.True(t, shots[0].IsFailure)
}

func TestUpdateCase_InvalidStatus(t *testing.T) {
	svc, _ := newTestService(t)

	bogus := models.CaseStatus("exploded")
	_, err := svc.UpdateCase(context.Background(), master, "any", CasePatch{Status: &bogus})
	assert.True(t, core.IsValidation(err))
}

func TestComplete_ResetsAgent(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	a := registerAgent(t, s, "dev-agent")

	a.Status = models.AgentStatusRunning
	a.CurrentTask = "smoke suite"
	require.NoError(t, s.UpdateAgent(ctx, a))

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }
	run, _, err := svc.Create(ctx, master, CreateParams{
		AgentID: a.ID,
		Cases:   []CaseSpec{{Name: "one"}, {Name: "two"}, {Name: "three"}},
	})
	require.NoError(t, err)

	svc.now = func() time.Time { return start.Add(90 * time.Second) }
	done, err := svc.Complete(ctx, master, run.ID, models.RunStatusFailed, 2, 1, 0)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusFailed, done.Status)
	assert.Equal(t, int64(90_000), done.DurationMS)
	require.NotNil(t, done.FinishedAt)
	assert.Equal(t, 2, done.Passed)
	assert.Equal(t, 1, done.Failed)

	agent, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusOnline, agent.Status)
	assert.Empty(t, agent.CurrentTask)
	assert.True(t, agent.LastHeartbeat.Equal(start.Add(90*time.Second)))
}

func TestComplete_RejectsSecondCompletion(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	a := registerAgent(t, s, "dev-agent")

	run, _, err := svc.Create(ctx, master, CreateParams{
		AgentID: a.ID,
		Cases:   []CaseSpec{{Name: "one"}},
	})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, master, run.ID, models.RunStatusPassed, 1, 0, 0)
	require.NoError(t, err)

	_, err = svc.Complete(ctx, master, run.ID, models.RunStatusFailed, 0, 1, 0)
	assert.ErrorIs(t, err, core.ErrConflict)
}

func TestComplete_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Complete(ctx, master, "any", models.RunStatusRunning, 1, 0, 0)
	assert.True(t, core.IsValidation(err), "non-terminal status must be rejected")

	_, err = svc.Complete(ctx, master, "any", models.RunStatusPassed, -1, 0, 0)
	assert.True(t, core.IsValidation(err))
}

func TestComplete_AgentScope(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	a := registerAgent(t, s, "dev-agent")
	b := registerAgent(t, s, "qa-agent")

	run, _, err := svc.Create(ctx, master, CreateParams{
		AgentID: a.ID,
		Cases:   []CaseSpec{{Name: "one"}},
	})
	require.NoError(t, err)

	// The owning agent may complete its own run; another agent may not.
	imposter := auth.Principal{Kind: auth.KindAgent, AgentID: b.ID, Subject: b.Name}
	_, err = svc.Complete(ctx, imposter, run.ID, models.RunStatusPassed, 1, 0, 0)
	assert.ErrorIs(t, err, core.ErrForbidden)

	owner := auth.Principal{Kind: auth.KindAgent, AgentID: a.ID, Subject: a.Name}
	_, err = svc.Complete(ctx, owner, run.ID, models.RunStatusPassed, 1, 0, 0)
	assert.NoError(t, err)
}

// Full lifecycle: create, walk each case, complete, verify the final shape.
func TestRunLifecycle(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	a := registerAgent(t, s, "dev-agent")
	owner := auth.Principal{Kind: auth.KindAgent, AgentID: a.ID, Subject: a.Name}

	run, cases, err := svc.Create(ctx, owner, CreateParams{
		AgentID:   a.ID,
		CommitSHA: "deadbeef",
		Cases: []CaseSpec{
			{Name: "login"},
			{Name: "checkout"},
			{Name: "logout"},
		},
	})
	require.NoError(t, err)

	running := models.CaseStatusRunning
	pass := models.CaseStatusPass
	fail := models.CaseStatusFail
	skip := models.CaseStatusSkipped

	for _, tc := range cases {
		_, err = svc.UpdateCase(ctx, owner, tc.ID, CasePatch{Status: &running})
		require.NoError(t, err)
	}
	_, err = svc.UpdateCase(ctx, owner, cases[0].ID, CasePatch{Status: &pass})
	require.NoError(t, err)
	desc := "cart total wrong"
	_, err = svc.UpdateCase(ctx, owner, cases[1].ID, CasePatch{Status: &fail, BugDescription: &desc})
	require.NoError(t, err)
	_, err = svc.UpdateCase(ctx, owner, cases[2].ID, CasePatch{Status: &skip})
	require.NoError(t, err)

	done, err := svc.Complete(ctx, owner, run.ID, models.RunStatusFailed, 1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, done.Status)

	final, err := s.ListRunCases(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusPass, final[0].Status)
	assert.Equal(t, models.CaseStatusFail, final[1].Status)
	assert.Equal(t, "cart total wrong", final[1].BugDescription)
	assert.Equal(t, models.CaseStatusSkipped, final[2].Status)
	for _, tc := range final {
		assert.NotNil(t, tc.StartedAt)
		assert.NotNil(t, tc.FinishedAt)
	}
}

func strptr(s string) *string { return &s }
