// ABOUTME: Presence broadcaster: announces agent joins and status changes
// ABOUTME: Sends best-effort notification messages to every other known agent

package presence

import (
	"context"
	"log/slog"

	"github.com/loomworks/relay-hub/internal/events"
	"github.com/loomworks/relay-hub/internal/mailbox"
	"github.com/loomworks/relay-hub/internal/store"
)

// Broadcaster fans presence notifications out to all other known agents.
// Deliveries are best-effort: a failing recipient is recorded in the
// returned report and logged, never raised to the caller.
type Broadcaster struct {
	store  store.Store
	mail   *mailbox.Router
	bus    *events.Broadcaster
	limit  int
	logger *slog.Logger
}

// NewBroadcaster creates a presence broadcaster. limit bounds the fan-out
// worker pool; bus may be nil.
func NewBroadcaster(st store.Store, mail *mailbox.Router, bus *events.Broadcaster, limit int, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		store:  st,
		mail:   mail,
		bus:    bus,
		limit:  limit,
		logger: logger.With("component", "presence"),
	}
}

// AgentJoined notifies every agent other than the new one that it has
// registered.
func (b *Broadcaster) AgentJoined(ctx context.Context, agent *store.Agent) []mailbox.Delivery {
	deliveries := b.broadcast(ctx, agent, "Agent joined: "+agent.Name, "joined")

	if b.bus != nil {
		b.bus.Publish(events.TopicPresence, &events.Event{
			Type:    events.TypeAgentJoined,
			AgentID: agent.ID,
			Payload: map[string]any{
				"name":         agent.Name,
				"status":       string(agent.Status),
				"capabilities": agent.Capabilities,
			},
		})
	}
	return deliveries
}

// StatusChanged notifies every other agent of a presence change.
func (b *Broadcaster) StatusChanged(ctx context.Context, agent *store.Agent) []mailbox.Delivery {
	deliveries := b.broadcast(ctx, agent, "Agent status changed: "+agent.Name, "status_changed")

	if b.bus != nil {
		b.bus.Publish(events.TopicPresence, &events.Event{
			Type:    events.TypeAgentStatus,
			AgentID: agent.ID,
			Payload: map[string]any{
				"name":   agent.Name,
				"status": string(agent.Status),
			},
		})
	}
	return deliveries
}

// broadcast composes and fans out one presence notification. Recipients are
// every known agent except the subject itself.
func (b *Broadcaster) broadcast(ctx context.Context, agent *store.Agent, subject, event string) []mailbox.Delivery {
	agents, err := b.store.ListAgents(ctx)
	if err != nil {
		b.logger.Warn("presence broadcast skipped: listing agents failed",
			"agent_id", agent.ID,
			"error", err)
		return nil
	}

	recipients := make([]string, 0, len(agents))
	for _, a := range agents {
		if a.ID != agent.ID {
			recipients = append(recipients, a.ID)
		}
	}
	if len(recipients) == 0 {
		return nil
	}

	deliveries := b.mail.FanOut(ctx, recipients, b.limit, func(recipient string) *store.Message {
		return &store.Message{
			From:    store.SystemSender,
			To:      recipient,
			Type:    store.TypeNotification,
			Kind:    store.KindPresence,
			Subject: subject,
			Content: map[string]any{
				"event":        event,
				"agentId":      agent.ID,
				"name":         agent.Name,
				"type":         agent.Type,
				"status":       string(agent.Status),
				"capabilities": agent.Capabilities,
			},
		}
	})

	for _, d := range deliveries {
		if d.Err != nil {
			b.logger.Warn("presence notification failed",
				"recipient", d.Recipient,
				"event", event,
				"error", d.Err)
		}
	}
	return deliveries
}
