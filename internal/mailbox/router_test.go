// ABOUTME: Tests for the mailbox router
// ABOUTME: Covers send, unread tracking, reply chaining, and fan-out outcomes

package mailbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/relay-hub/internal/events"
	"github.com/loomworks/relay-hub/internal/store"
)

func newTestRouter(t *testing.T) (*Router, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewRouter(st, nil, nil), st
}

func TestRouter_Send(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRouter(t)

	msg := &store.Message{
		From:    "a1",
		To:      "a2",
		Type:    store.TypeRequest,
		Subject: "need review",
		Content: map[string]any{"branch": "main"},
	}
	id, err := r.Send(ctx, msg)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := r.MessagesFor(ctx, "a2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, "a1", got[0].From)
	assert.Equal(t, store.KindGeneric, got[0].Kind) // defaulted
	assert.NotEmpty(t, got[0].Digest)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestRouter_SendMissingRecipient(t *testing.T) {
	r, _ := newTestRouter(t)

	_, err := r.Send(context.Background(), &store.Message{From: "a1", Type: store.TypeRequest})
	assert.ErrorIs(t, err, ErrMissingRecipient)
}

func TestRouter_SendToUnregisteredRecipient(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRouter(t)

	// Recipients need not exist in the registry; delivery provisions the
	// mailbox so the message is waiting when the agent shows up.
	id, err := r.Send(ctx, &store.Message{
		From: "a1",
		To:   "not-yet-registered",
		Type: store.TypeNotification,
	})
	require.NoError(t, err)

	got, err := r.MessagesFor(ctx, "not-yet-registered")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
}

func TestRouter_ConcurrentSendsGetUniqueIDs(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRouter(t)

	const n = 50
	ids := make(chan string, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.Send(ctx, &store.Message{
				From: "a1",
				To:   "a2",
				Type: store.TypeNotification,
			})
			ids <- id
			errs <- err
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate message id %s", id)
		seen[id] = true
	}

	messages, err := r.MessagesFor(ctx, "a2")
	require.NoError(t, err)
	assert.Len(t, messages, n)
}

func TestRouter_UnreadAndMarkRead(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRouter(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := r.Send(ctx, &store.Message{From: "a1", To: "a2", Type: store.TypeNotification})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	unread, err := r.UnreadFor(ctx, "a2")
	require.NoError(t, err)
	assert.Len(t, unread, 3)

	require.NoError(t, r.MarkRead(ctx, "a2", ids[0]))
	require.NoError(t, r.MarkRead(ctx, "a2", ids[0])) // idempotent

	unread, err = r.UnreadFor(ctx, "a2")
	require.NoError(t, err)
	require.Len(t, unread, 2)
	for _, msg := range unread {
		assert.NotEqual(t, ids[0], msg.ID)
	}

	// Read state belongs to the recipient; the full mailbox is untouched.
	all, err := r.MessagesFor(ctx, "a2")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRouter_Reply(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRouter(t)

	origID, err := r.Send(ctx, &store.Message{
		From:    "a1",
		To:      "a2",
		Type:    store.TypeRequest,
		Kind:    store.KindTaskAssignment,
		Subject: "review this",
	})
	require.NoError(t, err)

	replyID, err := r.Reply(ctx, origID, "a2", map[string]any{"verdict": "lgtm"})
	require.NoError(t, err)

	back, err := r.MessagesFor(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, replyID, back[0].ID)
	assert.Equal(t, "a2", back[0].From)
	assert.Equal(t, store.TypeResponse, back[0].Type)
	assert.Equal(t, store.KindTaskAssignment, back[0].Kind) // inherited
	assert.Equal(t, "Re: review this", back[0].Subject)
	assert.Equal(t, origID, back[0].ReplyTo)
}

func TestRouter_ReplyToMissingMessage(t *testing.T) {
	r, _ := newTestRouter(t)

	_, err := r.Reply(context.Background(), "no-such-id", "a2", nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRouter_ShareFile(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRouter(t)

	id, err := r.ShareFile(ctx, "a1", "a2", "shared-tasks/t1/report.md", "final report")
	require.NoError(t, err)

	msgs, err := r.MessagesFor(ctx, "a2")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, store.KindFileShare, msgs[0].Kind)
	assert.Equal(t, store.TypeNotification, msgs[0].Type)
	assert.Equal(t, "File shared: shared-tasks/t1/report.md", msgs[0].Subject)
	assert.Equal(t, "shared-tasks/t1/report.md", msgs[0].Content["path"])
	assert.Equal(t, "final report", msgs[0].Content["description"])
}

func TestRouter_FanOut(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRouter(t)

	recipients := []string{"a1", "a2", "a3"}
	deliveries := r.FanOut(ctx, recipients, 2, func(recipient string) *store.Message {
		return &store.Message{
			From:    store.SystemSender,
			To:      recipient,
			Type:    store.TypeNotification,
			Subject: "heads up",
		}
	})

	require.Len(t, deliveries, 3)
	for i, d := range deliveries {
		assert.Equal(t, recipients[i], d.Recipient)
		assert.NoError(t, d.Err)
		assert.NotEmpty(t, d.MessageID)
	}

	for _, recipient := range recipients {
		msgs, err := r.MessagesFor(ctx, recipient)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	}
}

// failingStore wraps a Store and fails SaveMessage for one recipient.
type failingStore struct {
	store.Store
	failFor string
}

var errInjected = errors.New("injected save failure")

func (f *failingStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if msg.To == f.failFor {
		return errInjected
	}
	return f.Store.SaveMessage(ctx, msg)
}

func TestRouter_FanOutPartialFailure(t *testing.T) {
	ctx := context.Background()
	st := &failingStore{Store: store.NewMemoryStore(), failFor: "a2"}
	r := NewRouter(st, nil, nil)

	deliveries := r.FanOut(ctx, []string{"a1", "a2", "a3"}, 0, func(recipient string) *store.Message {
		return &store.Message{From: store.SystemSender, To: recipient, Type: store.TypeNotification}
	})

	require.Len(t, deliveries, 3)
	assert.NoError(t, deliveries[0].Err)
	assert.ErrorIs(t, deliveries[1].Err, errInjected)
	assert.NoError(t, deliveries[2].Err)

	// The failed recipient did not stop the others.
	for _, recipient := range []string{"a1", "a3"} {
		msgs, err := st.ListMessages(ctx, recipient)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	}
}

func TestRouter_SendPublishesEvent(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBroadcaster(nil)
	defer bus.Close()
	r := NewRouter(store.NewMemoryStore(), bus, nil)

	ch, _ := bus.Subscribe(ctx, "a2")

	id, err := r.Send(ctx, &store.Message{
		From:    "a1",
		To:      "a2",
		Type:    store.TypeRequest,
		Subject: "ping",
	})
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, events.TypeMessage, ev.Type)
		assert.Equal(t, "a2", ev.AgentID)
		assert.Equal(t, id, ev.Payload["messageId"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message event")
	}
}
