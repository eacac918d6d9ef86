// Package auth models the calling principal. Authentication itself happens at
// the boundary (session middleware, bearer tokens issued at registration);
// this package only resolves a presented credential into a principal and
// answers scope questions.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentboard/agentboard/internal/core"
	"github.com/agentboard/agentboard/internal/models"
)

// Kind distinguishes the classes of principal.
type Kind string

const (
	// KindMaster is the orchestrator credential, scoped to every agent.
	KindMaster Kind = "master"
	// KindAgent is a per-agent bearer credential.
	KindAgent Kind = "agent"
	// KindSession is an authenticated human dashboard session.
	KindSession Kind = "session"
)

// Principal is the resolved identity of a caller.
type Principal struct {
	Kind    Kind
	AgentID string // set when Kind == KindAgent
	Subject string // display/subscriber identity (agent name or session user)
}

// CanActFor reports whether the principal may mutate resources owned by the
// given agent.
func (p Principal) CanActFor(agentID string) bool {
	switch p.Kind {
	case KindMaster:
		return true
	case KindAgent:
		return p.AgentID == agentID
	}
	return false
}

// TokenStore is the subset of the store needed to resolve agent credentials.
type TokenStore interface {
	GetAgentByToken(ctx context.Context, token string) (*models.Agent, error)
}

// Resolver turns presented credentials into principals.
type Resolver struct {
	store       TokenStore
	masterToken string
}

// NewResolver creates a Resolver. An empty masterToken disables the master
// credential.
func NewResolver(s TokenStore, masterToken string) *Resolver {
	return &Resolver{store: s, masterToken: masterToken}
}

// ResolveBearer resolves a bearer token into a principal.
func (r *Resolver) ResolveBearer(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, fmt.Errorf("missing bearer token: %w", core.ErrUnauthorized)
	}
	if r.masterToken != "" && token == r.masterToken {
		return Principal{Kind: KindMaster, Subject: "master"}, nil
	}
	agent, err := r.store.GetAgentByToken(ctx, token)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return Principal{}, fmt.Errorf("unknown bearer token: %w", core.ErrUnauthorized)
		}
		return Principal{}, err
	}
	return Principal{Kind: KindAgent, AgentID: agent.ID, Subject: agent.Name}, nil
}

// Session builds a principal for an already-authenticated human session. The
// session layer is a trusted boundary; no verification happens here.
func Session(user string) Principal {
	return Principal{Kind: KindSession, Subject: user}
}

type ctxKey struct{}

// WithPrincipal attaches a principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext extracts the principal set by the auth middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
