// Package liveness derives an agent's effective status from its stored status
// and heartbeat recency. The projection is computed on every read and never
// persisted.
package liveness

import (
	"time"

	"github.com/agentboard/agentboard/internal/models"
)

// StaleThreshold is how long an agent may go without a heartbeat before it is
// reported offline.
const StaleThreshold = 3 * time.Minute

// EffectiveStatus returns the read-time liveness projection for an agent.
// A stale heartbeat flips the status to offline unless the stored status is
// running: a long in-progress execution is allowed a coarser heartbeat cadence
// than the threshold.
func EffectiveStatus(a *models.Agent, now time.Time) models.AgentStatus {
	if now.Sub(a.LastHeartbeat) > StaleThreshold && a.Status != models.AgentStatusRunning {
		return models.AgentStatusOffline
	}
	return a.Status
}
