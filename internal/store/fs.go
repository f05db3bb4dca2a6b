// ABOUTME: Filesystem implementation of the Store interface over a workspace directory
// ABOUTME: One JSON file per message, snapshot files for agents, read state, and task status

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loomworks/relay-hub/internal/lockmap"
)

// Workspace layout file and directory names.
const (
	agentsFile     = "agents.json"
	readStatusFile = "read-status.json"
	messagesDir    = "messages"
	tasksDir       = "shared-tasks"
	taskDataFile   = "task-data.json"
	taskStatusFile = "status.json"
)

// FSStore implements Store over a shared workspace directory. The layout is
// stable across hub versions because sibling processes (one per agent) may
// point at the same root:
//
//	<root>/agents.json
//	<root>/read-status.json
//	<root>/<agentId>/messages/<messageId>.json
//	<root>/shared-tasks/<taskId>/task-data.json
//	<root>/shared-tasks/<taskId>/status.json
//
// Snapshot files are rewritten via temp-file-plus-rename and guarded by a
// keyed mutex in-process and an advisory flock across processes, so two
// writers never interleave a read-modify-write cycle.
type FSStore struct {
	root   string
	locks  *lockmap.MutexMap
	logger *slog.Logger
}

// Ensure FSStore implements Store.
var _ Store = (*FSStore)(nil)

// NewFSStore opens (creating if needed) a workspace rooted at root.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(filepath.Join(root, tasksDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	s := &FSStore{
		root:   root,
		locks:  lockmap.NewMutexMap(),
		logger: slog.Default().With("component", "store"),
	}

	s.logger.Info("workspace store opened", "root", root)
	return s, nil
}

// Root returns the workspace root directory.
func (s *FSStore) Root() string {
	return s.root
}

// Close is a no-op for the filesystem store.
func (s *FSStore) Close() error {
	return nil
}

// PutAgent upserts the agent record into agents.json and provisions the
// agent's private mailbox directory.
func (s *FSStore) PutAgent(ctx context.Context, agent *Agent) error {
	if err := os.MkdirAll(s.mailboxDir(agent.ID), 0o755); err != nil {
		return fmt.Errorf("provisioning mailbox for %s: %w", agent.ID, err)
	}

	s.locks.Lock(agentsFile)
	defer s.locks.Unlock(agentsFile)

	flock := lockmap.NewFileLock(filepath.Join(s.root, ".agents.lock"))
	if err := flock.Lock(); err != nil {
		return err
	}
	defer func() { _ = flock.Unlock() }()

	agents, err := s.readAgents()
	if err != nil {
		return err
	}
	agents[agent.ID] = agent

	return writeJSONAtomic(filepath.Join(s.root, agentsFile), agents)
}

// GetAgent returns the agent record or ErrNotFound.
func (s *FSStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	agents, err := s.readAgents()
	if err != nil {
		return nil, err
	}
	agent, ok := agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return agent, nil
}

// ListAgents returns every known agent. Order is unspecified.
func (s *FSStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	agents, err := s.readAgents()
	if err != nil {
		return nil, err
	}
	list := make([]*Agent, 0, len(agents))
	for _, a := range agents {
		list = append(list, a)
	}
	return list, nil
}

func (s *FSStore) readAgents() (map[string]*Agent, error) {
	agents := make(map[string]*Agent)
	if err := readJSON(filepath.Join(s.root, agentsFile), &agents); err != nil {
		if os.IsNotExist(err) {
			return agents, nil
		}
		return nil, fmt.Errorf("reading agent registry: %w", err)
	}
	return agents, nil
}

// SaveMessage persists a message into the recipient's mailbox. The message
// file is created with O_EXCL so a colliding id is detected at commit time
// and reported as ErrDuplicateMessage. The recipient need not be registered;
// its mailbox directory is created on first delivery.
func (s *FSStore) SaveMessage(ctx context.Context, msg *Message) error {
	dir := s.mailboxDir(msg.To)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("provisioning mailbox for %s: %w", msg.To, err)
	}

	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling message %s: %w", msg.ID, err)
	}

	path := filepath.Join(dir, msg.ID+".json")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("creating message file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing message file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing message file: %w", err)
	}
	return f.Close()
}

// GetMessage finds a message by id. The layout shards messages by recipient,
// so this stats one candidate file per known mailbox.
func (s *FSStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("scanning workspace: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == tasksDir || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(s.root, entry.Name(), messagesDir, id+".json")
		var msg Message
		if err := readJSON(path, &msg); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading message %s: %w", id, err)
		}
		return &msg, nil
	}
	return nil, ErrNotFound
}

// ListMessages returns the full mailbox of an agent, sorted by (timestamp,
// id) so reload order is deterministic after a restart regardless of
// directory listing order.
func (s *FSStore) ListMessages(ctx context.Context, agentID string) ([]*Message, error) {
	dir := s.mailboxDir(agentID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading mailbox for %s: %w", agentID, err)
	}

	var messages []*Message
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var msg Message
		if err := readJSON(filepath.Join(dir, entry.Name()), &msg); err != nil {
			s.logger.Warn("skipping unreadable message file",
				"agent_id", agentID,
				"file", entry.Name(),
				"error", err)
			continue
		}
		messages = append(messages, &msg)
	}

	sort.Slice(messages, func(i, j int) bool {
		if !messages[i].Timestamp.Equal(messages[j].Timestamp) {
			return messages[i].Timestamp.Before(messages[j].Timestamp)
		}
		return messages[i].ID < messages[j].ID
	})
	return messages, nil
}

// MarkMessageRead records a (recipient, message) read marker. Idempotent.
func (s *FSStore) MarkMessageRead(ctx context.Context, agentID, messageID string) error {
	s.locks.Lock(readStatusFile)
	defer s.locks.Unlock(readStatusFile)

	flock := lockmap.NewFileLock(filepath.Join(s.root, ".read-status.lock"))
	if err := flock.Lock(); err != nil {
		return err
	}
	defer func() { _ = flock.Unlock() }()

	markers, err := s.readMarkers()
	if err != nil {
		return err
	}

	marker := agentID + ":" + messageID
	for _, m := range markers {
		if m == marker {
			return nil
		}
	}
	markers = append(markers, marker)

	return writeJSONAtomic(filepath.Join(s.root, readStatusFile), markers)
}

// ReadMessageIDs returns the set of message ids the agent has marked read.
func (s *FSStore) ReadMessageIDs(ctx context.Context, agentID string) (map[string]bool, error) {
	markers, err := s.readMarkers()
	if err != nil {
		return nil, err
	}

	read := make(map[string]bool)
	prefix := agentID + ":"
	for _, m := range markers {
		if strings.HasPrefix(m, prefix) {
			read[strings.TrimPrefix(m, prefix)] = true
		}
	}
	return read, nil
}

func (s *FSStore) readMarkers() ([]string, error) {
	var markers []string
	if err := readJSON(filepath.Join(s.root, readStatusFile), &markers); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading read-status: %w", err)
	}
	return markers, nil
}

// PutTask persists a shared task's data file.
func (s *FSStore) PutTask(ctx context.Context, task *SharedTask) error {
	dir := s.taskDir(task.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating task directory: %w", err)
	}
	return writeJSONAtomic(filepath.Join(dir, taskDataFile), task)
}

// GetTask returns the shared task or ErrNotFound.
func (s *FSStore) GetTask(ctx context.Context, id string) (*SharedTask, error) {
	var task SharedTask
	if err := readJSON(filepath.Join(s.taskDir(id), taskDataFile), &task); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading task %s: %w", id, err)
	}
	return &task, nil
}

// PutTaskStatus merges one assignee's status entry into the task's status
// map. The whole-map rewrite is serialized per task: a keyed mutex covers
// in-process callers and an flock covers sibling processes sharing the
// workspace. Returns ErrNotFound for an unknown task id without creating
// any file.
func (s *FSStore) PutTaskStatus(ctx context.Context, taskID, agentID string, entry *TaskStatusEntry) error {
	dir := s.taskDir(taskID)
	if _, err := os.Stat(filepath.Join(dir, taskDataFile)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("checking task %s: %w", taskID, err)
	}

	s.locks.Lock("task:" + taskID)
	defer s.locks.Unlock("task:" + taskID)

	flock := lockmap.NewFileLock(filepath.Join(dir, ".status.lock"))
	if err := flock.Lock(); err != nil {
		return err
	}
	defer func() { _ = flock.Unlock() }()

	status, err := s.readTaskStatus(taskID)
	if err != nil {
		return err
	}
	status[agentID] = entry

	return writeJSONAtomic(filepath.Join(dir, taskStatusFile), status)
}

// GetTaskStatus returns the per-assignee status map for a task. A task with
// no reports yet yields an empty map; an unknown task yields ErrNotFound.
func (s *FSStore) GetTaskStatus(ctx context.Context, taskID string) (map[string]*TaskStatusEntry, error) {
	if _, err := os.Stat(filepath.Join(s.taskDir(taskID), taskDataFile)); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("checking task %s: %w", taskID, err)
	}
	return s.readTaskStatus(taskID)
}

func (s *FSStore) readTaskStatus(taskID string) (map[string]*TaskStatusEntry, error) {
	status := make(map[string]*TaskStatusEntry)
	if err := readJSON(filepath.Join(s.taskDir(taskID), taskStatusFile), &status); err != nil {
		if os.IsNotExist(err) {
			return status, nil
		}
		return nil, fmt.Errorf("reading task status: %w", err)
	}
	return status, nil
}

func (s *FSStore) mailboxDir(agentID string) string {
	return filepath.Join(s.root, agentID, messagesDir)
}

func (s *FSStore) taskDir(taskID string) string {
	return filepath.Join(s.root, tasksDir, taskID)
}

// readJSON unmarshals the file at path into v. os.IsNotExist errors pass
// through untouched so callers can map them to their own semantics.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSONAtomic writes v as JSON to path via a temp file and rename, so a
// reader never observes a torn snapshot.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("committing %s: %w", filepath.Base(path), err)
	}
	return nil
}
