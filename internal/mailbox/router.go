// ABOUTME: Mailbox router: creates, persists, and retrieves typed inter-agent messages
// ABOUTME: Handles reply chaining, read tracking, and bounded best-effort fan-out

package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/loomworks/relay-hub/internal/digest"
	"github.com/loomworks/relay-hub/internal/events"
	"github.com/loomworks/relay-hub/internal/store"
)

// ErrMissingRecipient indicates a send with an empty To field.
var ErrMissingRecipient = errors.New("message has no recipient")

// maxSendAttempts bounds id regeneration when the store reports a committed
// duplicate. UUIDv4 collisions are vanishingly rare; the retry exists so a
// collision degrades to an extra write instead of a lost message.
const maxSendAttempts = 3

// Delivery is the per-recipient outcome of a fan-out send. Fan-outs are
// best-effort: one failed recipient never blocks the others, but the
// failure stays observable here instead of vanishing into logs.
type Delivery struct {
	Recipient string
	MessageID string
	Err       error
}

// Router persists messages into recipient mailboxes and tracks read state.
type Router struct {
	store  store.Store
	bus    *events.Broadcaster
	logger *slog.Logger
}

// NewRouter creates a Router. bus may be nil when no observer is attached.
func NewRouter(st store.Store, bus *events.Broadcaster, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:  st,
		bus:    bus,
		logger: logger.With("component", "mailbox"),
	}
}

// Send assigns an id, timestamp, and content digest to msg, persists it
// into the recipient's mailbox, and returns the generated id. Sending to a
// never-registered recipient succeeds and provisions its mailbox. The
// message is immutable once committed.
func (r *Router) Send(ctx context.Context, msg *store.Message) (string, error) {
	if msg.To == "" {
		return "", ErrMissingRecipient
	}
	if msg.Kind == "" {
		msg.Kind = store.KindGeneric
	}
	if msg.Content != nil {
		d, err := digest.Message(msg.Content)
		if err != nil {
			return "", fmt.Errorf("digesting content: %w", err)
		}
		msg.Digest = d
	}

	var err error
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		msg.ID = uuid.New().String()
		msg.Timestamp = time.Now().UTC()

		err = r.store.SaveMessage(ctx, msg)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrDuplicateMessage) {
			return "", fmt.Errorf("persisting message: %w", err)
		}
		r.logger.Warn("message id collision, regenerating", "message_id", msg.ID)
	}
	if err != nil {
		return "", fmt.Errorf("persisting message: %w", err)
	}

	r.logger.Debug("message delivered",
		"message_id", msg.ID,
		"from", msg.From,
		"to", msg.To,
		"type", msg.Type,
		"kind", msg.Kind)

	if r.bus != nil {
		r.bus.Publish(msg.To, &events.Event{
			Type:    events.TypeMessage,
			AgentID: msg.To,
			Payload: map[string]any{
				"messageId": msg.ID,
				"from":      msg.From,
				"type":      string(msg.Type),
				"kind":      string(msg.Kind),
				"subject":   msg.Subject,
			},
		})
	}

	return msg.ID, nil
}

// MessagesFor returns every message addressed to agentID across its entire
// history, in send order.
func (r *Router) MessagesFor(ctx context.Context, agentID string) ([]*store.Message, error) {
	return r.store.ListMessages(ctx, agentID)
}

// UnreadFor returns the subset of the agent's mailbox it has not yet marked
// read.
func (r *Router) UnreadFor(ctx context.Context, agentID string) ([]*store.Message, error) {
	all, err := r.store.ListMessages(ctx, agentID)
	if err != nil {
		return nil, err
	}
	read, err := r.store.ReadMessageIDs(ctx, agentID)
	if err != nil {
		return nil, err
	}

	unread := make([]*store.Message, 0, len(all))
	for _, msg := range all {
		if !read[msg.ID] {
			unread = append(unread, msg)
		}
	}
	return unread, nil
}

// MarkRead records that agentID has read messageID. Idempotent: marking an
// already-read message again has no effect.
func (r *Router) MarkRead(ctx context.Context, agentID, messageID string) error {
	return r.store.MarkMessageRead(ctx, agentID, messageID)
}

// Reply composes and sends a response to an existing message. The new
// message goes to the original sender with subject "Re: " plus the original
// subject and a replyTo chain back to the original id. Returns
// store.ErrNotFound when the original message does not exist; unlike Send,
// Reply is strict about referential integrity.
func (r *Router) Reply(ctx context.Context, originalID, from string, content map[string]any) (string, error) {
	original, err := r.store.GetMessage(ctx, originalID)
	if err != nil {
		return "", fmt.Errorf("looking up original message %s: %w", originalID, err)
	}

	reply := &store.Message{
		From:    from,
		To:      original.From,
		Type:    store.TypeResponse,
		Kind:    original.Kind,
		Subject: "Re: " + original.Subject,
		Content: content,
		ReplyTo: original.ID,
	}
	return r.Send(ctx, reply)
}

// ShareFile sends a file-share notification pointing the recipient at a
// path inside the shared workspace. The file itself is not copied; agents
// sharing a workspace resolve the path directly.
func (r *Router) ShareFile(ctx context.Context, from, to, path, description string) (string, error) {
	content := map[string]any{"path": path}
	if description != "" {
		content["description"] = description
	}
	return r.Send(ctx, &store.Message{
		From:    from,
		To:      to,
		Type:    store.TypeNotification,
		Kind:    store.KindFileShare,
		Subject: "File shared: " + path,
		Content: content,
	})
}

// FanOut sends one logical notification to many recipients through a
// bounded worker pool. build composes the message for each recipient. The
// returned slice has one entry per recipient in input order; entries with a
// non-nil Err failed to deliver but did not stop the rest.
func (r *Router) FanOut(ctx context.Context, recipients []string, limit int, build func(recipient string) *store.Message) []Delivery {
	if limit <= 0 {
		limit = 4
	}

	deliveries := make([]Delivery, len(recipients))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, recipient := range recipients {
		g.Go(func() error {
			id, err := r.Send(gctx, build(recipient))
			if err != nil {
				r.logger.Warn("fan-out delivery failed",
					"recipient", recipient,
					"error", err)
			}
			// Each goroutine writes a distinct slice element.
			deliveries[i] = Delivery{Recipient: recipient, MessageID: id, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return deliveries
}
