// ABOUTME: In-memory implementation of the Store interface
// ABOUTME: Used by tests and ephemeral embeddings; state is lost on process exit

package store

import (
	"context"
	"sync"
)

// MemoryStore implements Store with plain maps behind one mutex. It keeps
// the same semantics as the durable backends (duplicate detection, task
// existence checks, idempotent read markers) so component tests can run
// against it interchangeably.
type MemoryStore struct {
	mu         sync.RWMutex
	agents     map[string]*Agent
	messages   map[string]*Message            // id -> message
	mailboxes  map[string][]string            // agentID -> message ids in send order
	readStatus map[string]map[string]bool     // agentID -> message id -> read
	tasks      map[string]*SharedTask         // id -> task
	taskStatus map[string]map[string]*TaskStatusEntry
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:     make(map[string]*Agent),
		messages:   make(map[string]*Message),
		mailboxes:  make(map[string][]string),
		readStatus: make(map[string]map[string]bool),
		tasks:      make(map[string]*SharedTask),
		taskStatus: make(map[string]map[string]*TaskStatusEntry),
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// PutAgent upserts an agent record.
func (s *MemoryStore) PutAgent(ctx context.Context, agent *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *agent
	s.agents[agent.ID] = &cp
	return nil
}

// GetAgent retrieves an agent by ID.
func (s *MemoryStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *agent
	return &cp, nil
}

// ListAgents returns all known agents.
func (s *MemoryStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		cp := *a
		list = append(list, &cp)
	}
	return list, nil
}

// SaveMessage persists a message into the recipient's mailbox.
func (s *MemoryStore) SaveMessage(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.ID]; exists {
		return ErrDuplicateMessage
	}
	cp := *msg
	s.messages[msg.ID] = &cp
	s.mailboxes[msg.To] = append(s.mailboxes[msg.To], msg.ID)
	return nil
}

// GetMessage retrieves a message by ID.
func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

// ListMessages returns the full mailbox of an agent in send order.
func (s *MemoryStore) ListMessages(ctx context.Context, agentID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.mailboxes[agentID]
	messages := make([]*Message, 0, len(ids))
	for _, id := range ids {
		cp := *s.messages[id]
		messages = append(messages, &cp)
	}
	return messages, nil
}

// MarkMessageRead records a read marker. Idempotent.
func (s *MemoryStore) MarkMessageRead(ctx context.Context, agentID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readStatus[agentID] == nil {
		s.readStatus[agentID] = make(map[string]bool)
	}
	s.readStatus[agentID][messageID] = true
	return nil
}

// ReadMessageIDs returns the set of message ids the agent has marked read.
func (s *MemoryStore) ReadMessageIDs(ctx context.Context, agentID string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	read := make(map[string]bool, len(s.readStatus[agentID]))
	for id := range s.readStatus[agentID] {
		read[id] = true
	}
	return read, nil
}

// PutTask persists a shared task.
func (s *MemoryStore) PutTask(ctx context.Context, task *SharedTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *task
	s.tasks[task.ID] = &cp
	if s.taskStatus[task.ID] == nil {
		s.taskStatus[task.ID] = make(map[string]*TaskStatusEntry)
	}
	return nil
}

// GetTask retrieves a shared task by ID.
func (s *MemoryStore) GetTask(ctx context.Context, id string) (*SharedTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *task
	return &cp, nil
}

// PutTaskStatus upserts one assignee's status entry.
func (s *MemoryStore) PutTaskStatus(ctx context.Context, taskID, agentID string, entry *TaskStatusEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return ErrNotFound
	}
	cp := *entry
	s.taskStatus[taskID][agentID] = &cp
	return nil
}

// GetTaskStatus returns the per-assignee status map for a task.
func (s *MemoryStore) GetTaskStatus(ctx context.Context, taskID string) (map[string]*TaskStatusEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tasks[taskID]; !ok {
		return nil, ErrNotFound
	}
	status := make(map[string]*TaskStatusEntry, len(s.taskStatus[taskID]))
	for id, e := range s.taskStatus[taskID] {
		cp := *e
		status[id] = &cp
	}
	return status, nil
}
