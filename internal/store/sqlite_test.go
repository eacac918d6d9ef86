package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentboard/agentboard/internal/core"
	"github.com/agentboard/agentboard/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })
	return s
}

func makeAgent(t *testing.T, s *SQLiteStore, name string) *models.Agent {
	t.Helper()
	a := &models.Agent{Name: name, Token: "agt_" + name}
	require.NoError(t, s.CreateAgent(context.Background(), a))
	return a
}

func makeRun(t *testing.T, s *SQLiteStore, agentID string, caseNames ...string) (*models.Run, []*models.TestCase) {
	t.Helper()
	run := &models.Run{
		AgentID:    agentID,
		Status:     models.RunStatusRunning,
		TotalTests: len(caseNames),
		StartedAt:  time.Now().UTC(),
	}
	cases := make([]*models.TestCase, len(caseNames))
	for i, name := range caseNames {
		cases[i] = &models.TestCase{OrderIndex: i, Name: name, Status: models.CaseStatusPending}
	}
	require.NoError(t, s.CreateRunWithCases(context.Background(), run, cases))
	return run, cases
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestAgent_CRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := makeAgent(t, s, "dev-agent")
	require.NotEmpty(t, a.ID)
	assert.Equal(t, models.AgentStatusOnline, a.Status)
	assert.False(t, a.LastHeartbeat.IsZero())

	got, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "dev-agent", got.Name)

	byName, err := s.GetAgentByName(ctx, "dev-agent")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byName.ID)

	byToken, err := s.GetAgentByToken(ctx, "agt_dev-agent")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byToken.ID)

	got.Status = models.AgentStatusRunning
	got.CurrentTask = "running checkout suite"
	require.NoError(t, s.UpdateAgent(ctx, got))

	updated, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusRunning, updated.Status)
	assert.Equal(t, "running checkout suite", updated.CurrentTask)
}

func TestAgent_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetAgent(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = s.GetAgentByToken(ctx, "bad-token")
	assert.ErrorIs(t, err, core.ErrNotFound)

	err = s.UpdateAgent(ctx, &models.Agent{ID: "nope"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestListAgents_SortedByName(t *testing.T) {
	s := newTestStore(t)

	makeAgent(t, s, "qa-agent")
	makeAgent(t, s, "dev-agent")

	agents, err := s.ListAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "dev-agent", agents[0].Name)
	assert.Equal(t, "qa-agent", agents[1].Name)
}

func TestCreateRunWithCases_Atomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := makeAgent(t, s, "dev-agent")
	run, cases := makeRun(t, s, a.ID, "login", "checkout", "logout")

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalTests)
	assert.Equal(t, models.RunStatusRunning, got.Status)

	listed, err := s.ListRunCases(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, "login", listed[0].Name)
	assert.Equal(t, "checkout", listed[1].Name)
	assert.Equal(t, cases[2].ID, listed[2].ID)
	for i, tc := range listed {
		assert.Equal(t, i, tc.OrderIndex)
		assert.Equal(t, models.CaseStatusPending, tc.Status)
	}
}

func TestListRuns_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := makeAgent(t, s, "dev-agent")
	b := makeAgent(t, s, "qa-agent")
	makeRun(t, s, a.ID, "one")
	run2, _ := makeRun(t, s, b.ID, "two")

	all, err := s.ListRuns(ctx, RunListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byAgent, err := s.ListRuns(ctx, RunListFilter{AgentID: b.ID})
	require.NoError(t, err)
	require.Len(t, byAgent, 1)
	assert.Equal(t, run2.ID, byAgent[0].ID)

	running, err := s.ListRuns(ctx, RunListFilter{Status: models.RunStatusRunning, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, running, 1)

	none, err := s.ListRuns(ctx, RunListFilter{Status: models.RunStatusPassed})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateCaseWithArtifacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := makeAgent(t, s, "dev-agent")
	_, cases := makeRun(t, s, a.ID, "login")
	tc := cases[0]

	now := time.Now().UTC()
	tc.Status = models.CaseStatusFail
	tc.Actual = "redirect loop on submit"
	tc.BugDescription = "login form loops back to itself"
	tc.BugSeverity = models.BugSeverityHigh
	tc.FinishedAt = &now

	shots := []*models.Screenshot{
		{URL: "https://cdn.example/fail1.png", Caption: "after submit", IsFailure: true},
		{URL: "https://cdn.example/fail2.png", IsFailure: true},
	}
	rec := &models.Recording{URL: "https://cdn.example/run.webm"}

	require.NoError(t, s.UpdateCaseWithArtifacts(ctx, tc, shots, rec))

	got, err := s.GetCase(ctx, tc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusFail, got.Status)
	assert.Equal(t, models.BugSeverityHigh, got.BugSeverity)
	require.NotNil(t, got.FinishedAt)

	gotShots, err := s.ListCaseScreenshots(ctx, tc.ID)
	require.NoError(t, err)
	require.Len(t, gotShots, 2)
	assert.True(t, gotShots[0].IsFailure)

	gotRecs, err := s.ListCaseRecordings(ctx, tc.ID)
	require.NoError(t, err)
	require.Len(t, gotRecs, 1)
	assert.Equal(t, "https://cdn.example/run.webm", gotRecs[0].URL)
}

func TestUpdateCaseWithArtifacts_MissingCase(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateCaseWithArtifacts(context.Background(),
		&models.TestCase{ID: "nope", Status: models.CaseStatusPass}, nil, nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCompleteRun_UpdatesRunAndAgentTogether(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := makeAgent(t, s, "dev-agent")
	a.Status = models.AgentStatusRunning
	a.CurrentTask = "suite"
	require.NoError(t, s.UpdateAgent(ctx, a))

	run, _ := makeRun(t, s, a.ID, "one", "two")

	now := time.Now().UTC()
	run.Status = models.RunStatusFailed
	run.Passed = 1
	run.Failed = 1
	run.DurationMS = 1500
	run.FinishedAt = &now

	a.Status = models.AgentStatusOnline
	a.CurrentTask = ""
	a.LastHeartbeat = now

	require.NoError(t, s.CompleteRun(ctx, run, a))

	gotRun, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, gotRun.Status)
	assert.Equal(t, 1, gotRun.Passed)
	require.NotNil(t, gotRun.FinishedAt)

	gotAgent, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusOnline, gotAgent.Status)
	assert.Empty(t, gotAgent.CurrentTask)
}

func TestGetOrCreateChannel_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch1, err := s.GetOrCreateChannel(ctx, "general")
	require.NoError(t, err)
	ch2, err := s.GetOrCreateChannel(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, ch1.ID, ch2.ID)

	channels, err := s.ListChannels(ctx)
	require.NoError(t, err)
	assert.Len(t, channels, 1)
}

func TestMessage_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch, err := s.GetOrCreateChannel(ctx, "bugs")
	require.NoError(t, err)

	m := &models.Message{
		ChannelID:  ch.ID,
		SenderName: "QAAgent",
		Type:       models.MessageTypeBugReport,
		Content:    "@DevAgent login is broken",
		Mentions:   []string{"@DevAgent"},
		Meta: models.MessageMeta{
			BugReport: &models.BugReportMeta{
				Description: "login is broken",
				Page:        "/login",
				Severity:    models.BugSeverityHigh,
			},
		},
	}
	require.NoError(t, s.CreateMessage(ctx, m))
	require.NotEmpty(t, m.ID)

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"@DevAgent"}, got.Mentions)
	require.NotNil(t, got.Meta.BugReport)
	assert.Equal(t, "/login", got.Meta.BugReport.Page)
	assert.Nil(t, got.Meta.PRCreated)
}

func seedMessages(t *testing.T, s *SQLiteStore, channelID string, n int, base time.Time) []*models.Message {
	t.Helper()
	msgs := make([]*models.Message, n)
	for i := 0; i < n; i++ {
		m := &models.Message{
			ChannelID:  channelID,
			SenderName: "sender",
			Type:       models.MessageTypeText,
			Content:    "message",
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.CreateMessage(context.Background(), m))
		msgs[i] = m
	}
	return msgs
}

func TestListMessages_Windows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch, err := s.GetOrCreateChannel(ctx, "general")
	require.NoError(t, err)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := seedMessages(t, s, ch.ID, 5, base)

	// After: strictly newer, chronological.
	after, err := s.ListMessagesAfter(ctx, ch.ID, msgs[2].CreatedAt, 10)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, msgs[3].ID, after[0].ID)
	assert.Equal(t, msgs[4].ID, after[1].ID)

	// Before: strictly older, newest first.
	before, err := s.ListMessagesBefore(ctx, ch.ID, msgs[3].CreatedAt, 2)
	require.NoError(t, err)
	require.Len(t, before, 2)
	assert.Equal(t, msgs[2].ID, before[0].ID)
	assert.Equal(t, msgs[1].ID, before[1].ID)

	// Recent: latest n, chronological.
	recent, err := s.ListRecentMessages(ctx, ch.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, msgs[2].ID, recent[0].ID)
	assert.Equal(t, msgs[4].ID, recent[2].ID)
}

func TestCountMessagesAfter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch, err := s.GetOrCreateChannel(ctx, "general")
	require.NoError(t, err)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := seedMessages(t, s, ch.ID, 4, base)

	total, err := s.CountMessagesAfter(ctx, ch.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	cutoff := msgs[1].CreatedAt
	newer, err := s.CountMessagesAfter(ctx, ch.ID, &cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, newer)
}

func TestReadCursor_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch, err := s.GetOrCreateChannel(ctx, "general")
	require.NoError(t, err)

	_, err = s.GetReadCursor(ctx, "joe", ch.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertReadCursor(ctx, &models.ReadCursor{
		SubscriberID: "joe", ChannelID: ch.ID, LastReadAt: first,
	}))

	later := first.Add(time.Hour)
	require.NoError(t, s.UpsertReadCursor(ctx, &models.ReadCursor{
		SubscriberID: "joe", ChannelID: ch.ID, LastReadAt: later,
	}))

	got, err := s.GetReadCursor(ctx, "joe", ch.ID)
	require.NoError(t, err)
	assert.True(t, got.LastReadAt.Equal(later))
}
