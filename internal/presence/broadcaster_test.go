// ABOUTME: Tests for the presence broadcaster
// ABOUTME: Verifies fan-out scope, notification payloads, and bus events

package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/relay-hub/internal/events"
	"github.com/loomworks/relay-hub/internal/mailbox"
	"github.com/loomworks/relay-hub/internal/store"
)

func seedAgents(t *testing.T, st store.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, st.PutAgent(context.Background(), &store.Agent{
			ID:           id,
			Name:         "Agent " + id,
			Type:         "worker",
			Status:       store.StatusIdle,
			RegisteredAt: time.Now().UTC(),
			UpdatedAt:    time.Now().UTC(),
		}))
	}
}

func TestBroadcaster_AgentJoinedExcludesSubject(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	mail := mailbox.NewRouter(st, nil, nil)
	b := NewBroadcaster(st, mail, nil, 2, nil)

	seedAgents(t, st, "a1", "a2", "a3")

	joined, err := st.GetAgent(ctx, "a3")
	require.NoError(t, err)
	deliveries := b.AgentJoined(ctx, joined)

	require.Len(t, deliveries, 2)
	for _, d := range deliveries {
		assert.NoError(t, d.Err)
		assert.NotEqual(t, "a3", d.Recipient)
	}

	// Recipients get a system presence notification describing the subject.
	msgs, err := mail.MessagesFor(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.SystemSender, msgs[0].From)
	assert.Equal(t, store.TypeNotification, msgs[0].Type)
	assert.Equal(t, store.KindPresence, msgs[0].Kind)
	assert.Equal(t, "Agent joined: Agent a3", msgs[0].Subject)
	assert.Equal(t, "joined", msgs[0].Content["event"])
	assert.Equal(t, "a3", msgs[0].Content["agentId"])
	assert.Equal(t, "idle", msgs[0].Content["status"])

	// The subject never notifies itself.
	msgs, err = mail.MessagesFor(ctx, "a3")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestBroadcaster_StatusChanged(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	mail := mailbox.NewRouter(st, nil, nil)
	b := NewBroadcaster(st, mail, nil, 2, nil)

	seedAgents(t, st, "a1", "a2")

	subject, err := st.GetAgent(ctx, "a1")
	require.NoError(t, err)
	subject.Status = store.StatusBusy

	deliveries := b.StatusChanged(ctx, subject)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "a2", deliveries[0].Recipient)

	msgs, err := mail.MessagesFor(ctx, "a2")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "status_changed", msgs[0].Content["event"])
	assert.Equal(t, "busy", msgs[0].Content["status"])
}

func TestBroadcaster_SingleAgentNoBroadcast(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	mail := mailbox.NewRouter(st, nil, nil)
	b := NewBroadcaster(st, mail, nil, 2, nil)

	seedAgents(t, st, "only")

	agent, err := st.GetAgent(ctx, "only")
	require.NoError(t, err)
	assert.Empty(t, b.AgentJoined(ctx, agent))
}

func TestBroadcaster_PublishesBusEvents(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	mail := mailbox.NewRouter(st, nil, nil)
	bus := events.NewBroadcaster(nil)
	defer bus.Close()
	b := NewBroadcaster(st, mail, bus, 2, nil)

	ch, _ := bus.Subscribe(ctx, events.TopicPresence)

	seedAgents(t, st, "a1")
	agent, err := st.GetAgent(ctx, "a1")
	require.NoError(t, err)

	b.AgentJoined(ctx, agent)
	select {
	case ev := <-ch:
		assert.Equal(t, events.TypeAgentJoined, ev.Type)
		assert.Equal(t, "a1", ev.AgentID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for presence event")
	}

	agent.Status = store.StatusOffline
	b.StatusChanged(ctx, agent)
	select {
	case ev := <-ch:
		assert.Equal(t, events.TypeAgentStatus, ev.Type)
		assert.Equal(t, "offline", ev.Payload["status"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status event")
	}
}
