// ABOUTME: In-memory pub/sub broadcaster for hub events
// ABOUTME: Lets outside observers (UI, SSE clients) watch presence, mailbox, and task activity

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber. A slow
// subscriber drops events rather than blocking hub operations.
const subscriberBufferSize = 64

// Type classifies a hub event.
type Type string

const (
	TypeAgentJoined Type = "agent_joined"
	TypeAgentStatus Type = "agent_status"
	TypeMessage     Type = "message"
	TypeTaskCreated Type = "task_created"
	TypeTaskStatus  Type = "task_status"
)

// Topic names. Mailbox events are published on the recipient's agent id;
// TopicAll receives a copy of everything.
const (
	TopicPresence = "presence"
	TopicTasks    = "tasks"
	TopicAll      = "*"
)

// Event is one observable hub occurrence. Payload shape depends on Type.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	AgentID   string         `json:"agentId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Broadcaster provides in-memory pub/sub for hub events. The hub publishes
// unconditionally; it never depends on a subscriber existing.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // topic -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Event),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers a subscriber for events on the given topic. Returns a
// receive channel and a subscription id. The subscription is cleaned up
// automatically when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, topic string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan *Event)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish stamps the event with an id and timestamp if missing and delivers
// it to all subscribers of topic plus the wildcard topic. Non-blocking:
// events are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(topic string, event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	targets := make([]chan *Event, 0, len(b.subscribers[topic])+len(b.subscribers[TopicAll]))
	for _, ch := range b.subscribers[topic] {
		targets = append(targets, ch)
	}
	if topic != TopicAll {
		for _, ch := range b.subscribers[TopicAll] {
			targets = append(targets, ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"topic", topic,
				"event_id", event.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}

	b.logger.Debug("subscriber removed", "topic", topic, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, topic)
	}
}
