// ABOUTME: Tests for the in-memory event broadcaster
// ABOUTME: Covers delivery, wildcard fan-out, slow subscribers, and lifecycle

package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBroadcaster_PublishToSubscriber(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), "a1")

	b.Publish("a1", &Event{Type: TypeMessage, AgentID: "a1"})

	ev := recvEvent(t, ch)
	assert.Equal(t, TypeMessage, ev.Type)
	assert.Equal(t, "a1", ev.AgentID)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestBroadcaster_TopicIsolation(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	a1, _ := b.Subscribe(context.Background(), "a1")
	a2, _ := b.Subscribe(context.Background(), "a2")

	b.Publish("a1", &Event{Type: TypeMessage})

	recvEvent(t, a1)
	select {
	case ev := <-a2:
		t.Fatalf("unexpected event on other topic: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_WildcardReceivesEverything(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	all, _ := b.Subscribe(context.Background(), TopicAll)

	b.Publish(TopicPresence, &Event{Type: TypeAgentJoined})
	b.Publish("a1", &Event{Type: TypeMessage})
	b.Publish(TopicTasks, &Event{Type: TypeTaskCreated})

	assert.Equal(t, TypeAgentJoined, recvEvent(t, all).Type)
	assert.Equal(t, TypeMessage, recvEvent(t, all).Type)
	assert.Equal(t, TypeTaskCreated, recvEvent(t, all).Type)
}

func TestBroadcaster_MultipleSubscribersSameTopic(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(context.Background(), TopicTasks)
	ch2, _ := b.Subscribe(context.Background(), TopicTasks)

	b.Publish(TopicTasks, &Event{Type: TypeTaskStatus})

	assert.Equal(t, TypeTaskStatus, recvEvent(t, ch1).Type)
	assert.Equal(t, TypeTaskStatus, recvEvent(t, ch2).Type)
}

func TestBroadcaster_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), "slow")

	// Overfill the buffer; Publish must return without blocking.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Publish("slow", &Event{Type: TypeMessage})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	assert.Len(t, ch, subscriberBufferSize)
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(context.Background(), "a1")
	b.Unsubscribe("a1", subID)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	b.Publish("a1", &Event{Type: TypeMessage})
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "a1")
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcaster_CloseClosesAllChannels(t *testing.T) {
	b := NewBroadcaster(nil)

	ch1, _ := b.Subscribe(context.Background(), "a1")
	ch2, _ := b.Subscribe(context.Background(), TopicAll)

	b.Close()

	_, open := <-ch1
	assert.False(t, open)
	_, open = <-ch2
	assert.False(t, open)
}
