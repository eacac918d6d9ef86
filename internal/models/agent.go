package models

import "time"

// AgentStatus is the stored status of a test-execution agent. It changes only
// through explicit operations (register, heartbeat, run completion). Staleness
// is derived at read time and never written back.
type AgentStatus string

const (
	AgentStatusOnline  AgentStatus = "online"
	AgentStatusOffline AgentStatus = "offline"
	AgentStatusRunning AgentStatus = "running"
	AgentStatusError   AgentStatus = "error"
	AgentStatusPaused  AgentStatus = "paused"
)

// Agent represents an external automated test-execution worker.
type Agent struct {
	ID            string
	Name          string
	Token         string `json:"-"`
	Status        AgentStatus
	CurrentTask   string
	DevURL        string
	RepoURL       string
	Branch        string
	LastHeartbeat time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
