// Package agents manages agent registration, heartbeats, and liveness views.
package agents

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/agentboard/agentboard/internal/auth"
	"github.com/agentboard/agentboard/internal/core"
	"github.com/agentboard/agentboard/internal/liveness"
	"github.com/agentboard/agentboard/internal/models"
	"github.com/agentboard/agentboard/internal/store"
)

// Service implements agent lifecycle operations over the store.
type Service struct {
	store store.Store
	now   func() time.Time
}

// NewService creates an agent service.
func NewService(s store.Store) *Service {
	return &Service{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// newToken generates a per-agent bearer credential.
func newToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return "agt_" + hex.EncodeToString(buf), nil
}

// RegisterParams are the inputs to Register.
type RegisterParams struct {
	Name    string
	DevURL  string
	RepoURL string
	Branch  string
}

// Register upserts an agent by name. Re-registering an existing name refreshes
// its URLs and heartbeat and returns the existing credential.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*models.Agent, error) {
	if params.Name == "" {
		return nil, core.Invalid("name")
	}

	now := s.now()

	existing, err := s.store.GetAgentByName(ctx, params.Name)
	if err == nil {
		existing.DevURL = params.DevURL
		existing.RepoURL = params.RepoURL
		existing.Branch = params.Branch
		existing.Status = models.AgentStatusOnline
		existing.LastHeartbeat = now
		if err := s.store.UpdateAgent(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	agent := &models.Agent{
		Name:          params.Name,
		Token:         token,
		Status:        models.AgentStatusOnline,
		DevURL:        params.DevURL,
		RepoURL:       params.RepoURL,
		Branch:        params.Branch,
		LastHeartbeat: now,
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// Heartbeat refreshes an agent's last_heartbeat, optionally updating stored
// status and current task. Returns the ack timestamp.
func (s *Service) Heartbeat(ctx context.Context, p auth.Principal, agentID string, status *models.AgentStatus, currentTask *string) (time.Time, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return time.Time{}, err
	}
	if !p.CanActFor(agent.ID) {
		return time.Time{}, fmt.Errorf("heartbeat for agent %s: %w", agentID, core.ErrForbidden)
	}

	now := s.now()
	agent.LastHeartbeat = now
	if status != nil {
		switch *status {
		case models.AgentStatusOnline, models.AgentStatusOffline, models.AgentStatusRunning,
			models.AgentStatusError, models.AgentStatusPaused:
			agent.Status = *status
		default:
			return time.Time{}, core.Invalid("status")
		}
	}
	if currentTask != nil {
		agent.CurrentTask = *currentTask
	}
	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// View is an agent with its read-time effective status attached.
type View struct {
	*models.Agent
	EffectiveStatus models.AgentStatus
}

// Get returns one agent with effective status computed as of now.
func (s *Service) Get(ctx context.Context, id string) (*View, error) {
	agent, err := s.store.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	return &View{Agent: agent, EffectiveStatus: liveness.EffectiveStatus(agent, s.now())}, nil
}

// List returns all agents with effective statuses computed as of now.
func (s *Service) List(ctx context.Context) ([]*View, error) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	views := make([]*View, len(agents))
	for i, a := range agents {
		views[i] = &View{Agent: a, EffectiveStatus: liveness.EffectiveStatus(a, now)}
	}
	return views, nil
}
