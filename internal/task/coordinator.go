// ABOUTME: Task coordinator: multi-assignee shared tasks with per-agent status fan-out
// ABOUTME: Persists tasks through the store and notifies assignees via the mailbox router

package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loomworks/relay-hub/internal/events"
	"github.com/loomworks/relay-hub/internal/mailbox"
	"github.com/loomworks/relay-hub/internal/store"
)

// ErrInvalidTaskStatus indicates a status outside in_progress/completed/blocked.
var ErrInvalidTaskStatus = errors.New("invalid task status")

// Coordinator creates shared tasks and fans status updates out to the
// assignees. There is deliberately no transaction spanning "task persisted"
// and "assignees notified": a crash mid-fan-out leaves the task durable and
// some assignees uninformed, and the delivery report is how callers see it.
type Coordinator struct {
	store  store.Store
	mail   *mailbox.Router
	bus    *events.Broadcaster
	limit  int
	logger *slog.Logger
}

// NewCoordinator creates a Coordinator. limit bounds the fan-out worker
// pool; bus may be nil.
func NewCoordinator(st store.Store, mail *mailbox.Router, bus *events.Broadcaster, limit int, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:  st,
		mail:   mail,
		bus:    bus,
		limit:  limit,
		logger: logger.With("component", "task"),
	}
}

// CreateSharedTask persists a new task and sends every assignee a
// task-assignment request. The task id derives from the human name plus a
// time and random disambiguator so ids stay readable in the workspace tree.
// Notification failures appear in the returned deliveries; they do not fail
// the call.
func (c *Coordinator) CreateSharedTask(ctx context.Context, creator string, assignees []string, name, description string, payload map[string]any) (*store.SharedTask, []mailbox.Delivery, error) {
	if name == "" {
		return nil, nil, fmt.Errorf("task name is required")
	}
	if len(assignees) == 0 {
		return nil, nil, fmt.Errorf("task needs at least one assignee")
	}

	t := &store.SharedTask{
		ID:          newTaskID(name),
		Name:        name,
		Description: description,
		Creator:     creator,
		Assignees:   append([]string(nil), assignees...),
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	}

	if err := c.store.PutTask(ctx, t); err != nil {
		return nil, nil, fmt.Errorf("persisting task: %w", err)
	}

	c.logger.Info("shared task created",
		"task_id", t.ID,
		"creator", creator,
		"assignees", assignees)

	deliveries := c.mail.FanOut(ctx, t.Assignees, c.limit, func(recipient string) *store.Message {
		return &store.Message{
			From:    creator,
			To:      recipient,
			Type:    store.TypeRequest,
			Kind:    store.KindTaskAssignment,
			Subject: "Task assignment: " + name,
			Content: map[string]any{
				"taskId":      t.ID,
				"name":        name,
				"description": description,
				"assignees":   t.Assignees,
			},
		}
	})

	if c.bus != nil {
		c.bus.Publish(events.TopicTasks, &events.Event{
			Type:    events.TypeTaskCreated,
			AgentID: creator,
			Payload: map[string]any{
				"taskId":    t.ID,
				"name":      name,
				"assignees": t.Assignees,
			},
		})
	}

	return t, deliveries, nil
}

// UpdateTaskStatus records one agent's status report and fans an update out
// to the task's creator and every assignee in the original assignee list,
// minus the reporter. Returns store.ErrNotFound for an unknown task id
// without writing anything. A reporter outside the assignee list is still
// recorded (membership is not enforced) but never added to the fan-out set.
// No transition checking: any status may follow any other, completed
// included.
func (c *Coordinator) UpdateTaskStatus(ctx context.Context, agentID, taskID string, status store.TaskStatus, message string) ([]mailbox.Delivery, error) {
	switch status {
	case store.TaskInProgress, store.TaskCompleted, store.TaskBlocked:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidTaskStatus, status)
	}

	t, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", taskID, err)
	}

	entry := &store.TaskStatusEntry{
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	if err := c.store.PutTaskStatus(ctx, taskID, agentID, entry); err != nil {
		return nil, fmt.Errorf("persisting status for task %s: %w", taskID, err)
	}

	c.logger.Info("task status updated",
		"task_id", taskID,
		"agent_id", agentID,
		"status", status)

	// The creator hears about progress even when it assigned the task away.
	recipients := make([]string, 0, len(t.Assignees)+1)
	seen := map[string]bool{agentID: true}
	for _, a := range append([]string{t.Creator}, t.Assignees...) {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		recipients = append(recipients, a)
	}

	var deliveries []mailbox.Delivery
	if len(recipients) > 0 {
		deliveries = c.mail.FanOut(ctx, recipients, c.limit, func(recipient string) *store.Message {
			return &store.Message{
				From:    agentID,
				To:      recipient,
				Type:    store.TypeUpdate,
				Kind:    store.KindTaskStatus,
				Subject: "Task status: " + t.Name,
				Content: map[string]any{
					"taskId":  taskID,
					"agentId": agentID,
					"status":  string(status),
					"message": message,
				},
			}
		})
	}

	if c.bus != nil {
		c.bus.Publish(events.TopicTasks, &events.Event{
			Type:    events.TypeTaskStatus,
			AgentID: agentID,
			Payload: map[string]any{
				"taskId": taskID,
				"status": string(status),
			},
		})
	}

	return deliveries, nil
}

// GetTask returns the task record or store.ErrNotFound.
func (c *Coordinator) GetTask(ctx context.Context, taskID string) (*store.SharedTask, error) {
	return c.store.GetTask(ctx, taskID)
}

// GetTaskStatus returns the per-assignee status map for a task.
func (c *Coordinator) GetTaskStatus(ctx context.Context, taskID string) (map[string]*store.TaskStatusEntry, error) {
	return c.store.GetTaskStatus(ctx, taskID)
}

// newTaskID builds a readable unique id: slugified name, millisecond
// timestamp, and a short random suffix.
func newTaskID(name string) string {
	return fmt.Sprintf("%s-%d-%s", slugify(name), time.Now().UnixMilli(), uuid.New().String()[:8])
}

// slugify lowercases the name and collapses anything outside [a-z0-9] into
// single hyphens, keeping task directory names filesystem-safe.
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "task"
	}
	if len(slug) > 40 {
		slug = strings.TrimSuffix(slug[:40], "-")
	}
	return slug
}
