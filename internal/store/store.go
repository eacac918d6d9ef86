package store

import (
	"context"
	"time"

	"github.com/agentboard/agentboard/internal/models"
)

// RunListFilter specifies filters for listing runs.
type RunListFilter struct {
	AgentID string
	Status  models.RunStatus
	Limit   int
}

// Store defines the persistence interface for agentboard.
type Store interface {
	// Agents
	CreateAgent(ctx context.Context, a *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	GetAgentByName(ctx context.Context, name string) (*models.Agent, error)
	GetAgentByToken(ctx context.Context, token string) (*models.Agent, error)
	ListAgents(ctx context.Context) ([]*models.Agent, error)
	UpdateAgent(ctx context.Context, a *models.Agent) error

	// Runs and cases. CreateRunWithCases, UpdateCaseWithArtifacts, and
	// CompleteRun are the three multi-row invariants; each commits in a
	// single transaction.
	CreateRunWithCases(ctx context.Context, run *models.Run, cases []*models.TestCase) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, filter RunListFilter) ([]*models.Run, error)
	ListRunCases(ctx context.Context, runID string) ([]*models.TestCase, error)
	GetCase(ctx context.Context, id string) (*models.TestCase, error)
	UpdateCaseWithArtifacts(ctx context.Context, tc *models.TestCase, shots []*models.Screenshot, rec *models.Recording) error
	CompleteRun(ctx context.Context, run *models.Run, agent *models.Agent) error
	ListCaseScreenshots(ctx context.Context, caseID string) ([]*models.Screenshot, error)
	ListCaseRecordings(ctx context.Context, caseID string) ([]*models.Recording, error)

	// Channels and messages
	GetOrCreateChannel(ctx context.Context, name string) (*models.Channel, error)
	GetChannelByName(ctx context.Context, name string) (*models.Channel, error)
	ListChannels(ctx context.Context) ([]*models.Channel, error)
	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListMessagesAfter(ctx context.Context, channelID string, after time.Time, limit int) ([]*models.Message, error)
	ListMessagesBefore(ctx context.Context, channelID string, before time.Time, limit int) ([]*models.Message, error)
	ListRecentMessages(ctx context.Context, channelID string, limit int) ([]*models.Message, error)
	CountMessagesAfter(ctx context.Context, channelID string, after *time.Time) (int, error)

	// Read cursors
	GetReadCursor(ctx context.Context, subscriberID, channelID string) (*models.ReadCursor, error)
	UpsertReadCursor(ctx context.Context, c *models.ReadCursor) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
