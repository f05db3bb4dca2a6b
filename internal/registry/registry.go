// ABOUTME: Agent registry: tracks known agents, their capabilities, and presence
// ABOUTME: Persists records through the store and announces changes via the presence broadcaster

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomworks/relay-hub/internal/mailbox"
	"github.com/loomworks/relay-hub/internal/store"
)

// ErrInvalidStatus indicates a status value outside idle/busy/offline.
var ErrInvalidStatus = errors.New("invalid agent status")

// ErrMissingAgentID indicates a registration without an agent id.
var ErrMissingAgentID = errors.New("agent id is required")

// Announcer receives presence changes for broadcast to other agents.
// Implemented by presence.Broadcaster; nil-safe via the noop default.
type Announcer interface {
	AgentJoined(ctx context.Context, agent *store.Agent) []mailbox.Delivery
	StatusChanged(ctx context.Context, agent *store.Agent) []mailbox.Delivery
}

// Registry tracks known agents. The store is the source of truth; the
// registry holds no in-memory agent state of its own.
type Registry struct {
	store     store.Store
	announcer Announcer
	logger    *slog.Logger
}

// NewRegistry creates a Registry. announcer may be nil when presence
// broadcast is not wanted (tests, read-only embeddings).
func NewRegistry(st store.Store, announcer Announcer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:     st,
		announcer: announcer,
		logger:    logger.With("component", "registry"),
	}
}

// Register persists the agent record, provisions its mailbox, and announces
// the join to every other known agent. Registering an already-known id is a
// silent upsert: the record is overwritten, not rejected. The original
// registration time survives the upsert.
func (r *Registry) Register(ctx context.Context, agent *store.Agent) error {
	if agent.ID == "" {
		return ErrMissingAgentID
	}
	if agent.Status == "" {
		agent.Status = store.StatusIdle
	}
	if !store.ValidStatus(agent.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, agent.Status)
	}

	now := time.Now().UTC()
	agent.RegisteredAt = now
	agent.UpdatedAt = now
	if existing, err := r.store.GetAgent(ctx, agent.ID); err == nil {
		agent.RegisteredAt = existing.RegisteredAt
	}

	if err := r.store.PutAgent(ctx, agent); err != nil {
		return fmt.Errorf("persisting agent %s: %w", agent.ID, err)
	}

	r.logger.Info("=== AGENT REGISTERED ===",
		"agent_id", agent.ID,
		"name", agent.Name,
		"type", agent.Type,
		"capabilities", agent.Capabilities,
		"status", agent.Status)

	if r.announcer != nil {
		r.announcer.AgentJoined(ctx, agent)
	}
	return nil
}

// UpdateStatus persists a new presence state and announces the change. An
// unknown agent id is a logged no-op, not an error: callers cannot tell
// "updated" from "ignored" except through the logs.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status store.AgentStatus) error {
	if !store.ValidStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	agent, err := r.store.GetAgent(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("status update for unknown agent ignored",
			"agent_id", id,
			"status", status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading agent %s: %w", id, err)
	}

	agent.Status = status
	agent.UpdatedAt = time.Now().UTC()
	if err := r.store.PutAgent(ctx, agent); err != nil {
		return fmt.Errorf("persisting agent %s: %w", id, err)
	}

	r.logger.Info("agent status changed",
		"agent_id", id,
		"status", status)

	if r.announcer != nil {
		r.announcer.StatusChanged(ctx, agent)
	}
	return nil
}

// Query returns all agents whose capability set is a superset of the
// requested capabilities (AND semantics). An empty request matches every
// agent. Order is unspecified.
func (r *Registry) Query(ctx context.Context, capabilities []string) ([]*store.Agent, error) {
	agents, err := r.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*store.Agent, 0, len(agents))
	for _, a := range agents {
		if a.HasCapabilities(capabilities) {
			matched = append(matched, a)
		}
	}
	return matched, nil
}

// GetByID returns the agent record or store.ErrNotFound.
func (r *Registry) GetByID(ctx context.Context, id string) (*store.Agent, error) {
	return r.store.GetAgent(ctx, id)
}
