// ABOUTME: Store interface and data types for relay-hub persistence
// ABOUTME: Defines Agent, Message, SharedTask structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateMessage is returned when saving a message whose id already exists
var ErrDuplicateMessage = errors.New("message already exists")

// AgentStatus is the presence state of an agent.
type AgentStatus string

// Agent presence states. Status is only ever mutated through an explicit
// status update, never inferred from activity.
const (
	StatusIdle    AgentStatus = "idle"
	StatusBusy    AgentStatus = "busy"
	StatusOffline AgentStatus = "offline"
)

// ValidStatus reports whether s is one of the known presence states.
func ValidStatus(s AgentStatus) bool {
	switch s {
	case StatusIdle, StatusBusy, StatusOffline:
		return true
	}
	return false
}

// Agent is the identity and presence record of a participant. An agent is
// never deleted; an offline agent remains addressable.
type Agent struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	Capabilities []string    `json:"capabilities"`
	Status       AgentStatus `json:"status"`
	RegisteredAt time.Time   `json:"registeredAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// HasCapabilities reports whether the agent's capability set is a superset
// of want (AND semantics).
func (a *Agent) HasCapabilities(want []string) bool {
	if len(want) == 0 {
		return true
	}
	have := make(map[string]bool, len(a.Capabilities))
	for _, c := range a.Capabilities {
		have[c] = true
	}
	for _, c := range want {
		if !have[c] {
			return false
		}
	}
	return true
}

// MessageType classifies the communication intent of a message.
type MessageType string

const (
	TypeRequest      MessageType = "request"
	TypeResponse     MessageType = "response"
	TypeNotification MessageType = "notification"
	TypeUpdate       MessageType = "update"
)

// MessageKind discriminates the payload shape of a message. The kind is
// decided at construction time; consumers dispatch on it rather than
// matching substrings in the subject line.
type MessageKind string

const (
	KindGeneric        MessageKind = "generic"
	KindTaskAssignment MessageKind = "task_assignment"
	KindTaskStatus     MessageKind = "task_status"
	KindPresence       MessageKind = "presence"
	KindFileShare      MessageKind = "file_share"
)

// SystemSender is the reserved sender id for hub-originated notifications.
const SystemSender = "system"

// Message is a single unit of communication between agents. A message is
// immutable once created; read state is tracked separately per recipient.
type Message struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	Type      MessageType    `json:"type"`
	Kind      MessageKind    `json:"kind"`
	Subject   string         `json:"subject"`
	Content   map[string]any `json:"content"`
	Digest    string         `json:"digest,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	ReplyTo   string         `json:"replyTo,omitempty"`
}

// TaskStatus is the per-assignee state of a shared task. Transitions are
// not enforced: any status may follow any other and there is no terminal
// state.
type TaskStatus string

const (
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskBlocked    TaskStatus = "blocked"
)

// TaskStatusEntry is one assignee's latest report on a shared task.
// Last write wins per assignee.
type TaskStatusEntry struct {
	Status    TaskStatus `json:"status"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
}

// SharedTask is a unit of multi-agent coordinated work. The assignee set is
// fixed at creation; each assignee reports status independently.
type SharedTask struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Creator     string         `json:"creator"`
	Assignees   []string       `json:"assignees"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Store is the single authoritative source of hub state. In-memory
// structures held by callers are caches only.
type Store interface {
	// Agents. PutAgent is an upsert: re-registering a known id overwrites
	// the existing record.
	PutAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)

	// Messages. SaveMessage returns ErrDuplicateMessage if the id is
	// already committed; persisting also provisions the recipient's
	// mailbox, so sending to a never-registered id succeeds.
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, agentID string) ([]*Message, error)

	// Read state, keyed by (recipient, message id). Marking twice is a
	// no-op.
	MarkMessageRead(ctx context.Context, agentID, messageID string) error
	ReadMessageIDs(ctx context.Context, agentID string) (map[string]bool, error)

	// Shared tasks. PutTaskStatus returns ErrNotFound for an unknown task
	// id; it does not check assignee membership.
	PutTask(ctx context.Context, task *SharedTask) error
	GetTask(ctx context.Context, id string) (*SharedTask, error)
	PutTaskStatus(ctx context.Context, taskID, agentID string, entry *TaskStatusEntry) error
	GetTaskStatus(ctx context.Context, taskID string) (map[string]*TaskStatusEntry, error)

	// Close releases any resources held by the store
	Close() error
}
