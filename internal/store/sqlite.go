// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Single-process embedding backend with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite. Unlike FSStore
// it is not a shared workspace format: use it when a single process embeds
// the hub and wants transactional storage in one file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			type          TEXT NOT NULL,
			capabilities  TEXT NOT NULL,
			status        TEXT NOT NULL,
			registered_at TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			CHECK (status IN ('idle', 'busy', 'offline'))
		);

		CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			from_agent TEXT NOT NULL,
			to_agent   TEXT NOT NULL,
			type       TEXT NOT NULL,
			kind       TEXT NOT NULL,
			subject    TEXT NOT NULL,
			content    TEXT,
			digest     TEXT,
			reply_to   TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_to_agent
			ON messages(to_agent, created_at);

		CREATE TABLE IF NOT EXISTS read_status (
			agent_id   TEXT NOT NULL,
			message_id TEXT NOT NULL,
			read_at    TEXT NOT NULL,
			PRIMARY KEY (agent_id, message_id)
		);

		CREATE TABLE IF NOT EXISTS shared_tasks (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL,
			creator     TEXT NOT NULL,
			assignees   TEXT NOT NULL,
			payload     TEXT,
			created_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS task_status (
			task_id    TEXT NOT NULL,
			agent_id   TEXT NOT NULL,
			status     TEXT NOT NULL,
			message    TEXT,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (task_id, agent_id),
			FOREIGN KEY (task_id) REFERENCES shared_tasks(id),

			CHECK (status IN ('in_progress', 'completed', 'blocked'))
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PutAgent upserts an agent record.
func (s *SQLiteStore) PutAgent(ctx context.Context, agent *Agent) error {
	caps, err := json.Marshal(agent.Capabilities)
	if err != nil {
		return fmt.Errorf("marshaling capabilities: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, type, capabilities, status, registered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			capabilities = excluded.capabilities,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, agent.ID, agent.Name, agent.Type, string(caps), agent.Status,
		agent.RegisteredAt.UTC().Format(time.RFC3339Nano), agent.UpdatedAt.UTC().Format(time.RFC3339Nano))

	return err
}

// GetAgent retrieves an agent by ID.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, capabilities, status, registered_at, updated_at
		FROM agents WHERE id = ?
	`, id)

	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return agent, err
}

// ListAgents returns all known agents.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, capabilities, status, registered_at, updated_at
		FROM agents
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for scanAgent.
type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*Agent, error) {
	var a Agent
	var caps, registeredAt, updatedAt string
	if err := row.Scan(&a.ID, &a.Name, &a.Type, &caps, &a.Status, &registeredAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(caps), &a.Capabilities); err != nil {
		return nil, fmt.Errorf("parsing capabilities: %w", err)
	}
	a.RegisteredAt, _ = time.Parse(time.RFC3339Nano, registeredAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &a, nil
}

// SaveMessage persists a message. Returns ErrDuplicateMessage if the id is
// already committed.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	var content *string
	if msg.Content != nil {
		b, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("marshaling content: %w", err)
		}
		str := string(b)
		content = &str
	}

	var replyTo *string
	if msg.ReplyTo != "" {
		replyTo = &msg.ReplyTo
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, from_agent, to_agent, type, kind, subject, content, digest, reply_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.From, msg.To, msg.Type, msg.Kind, msg.Subject, content, msg.Digest, replyTo,
		msg.Timestamp.UTC().Format(time.RFC3339Nano))

	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateMessage
	}
	return err
}

// isUniqueViolation reports whether err is a primary-key conflict. The
// modernc driver does not export a typed error, so this matches on the
// SQLite error text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, from_agent, to_agent, type, kind, subject, content, digest, reply_to, created_at
		FROM messages WHERE id = ?
	`, id)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return msg, err
}

// ListMessages returns the full mailbox of an agent in send order.
func (s *SQLiteStore) ListMessages(ctx context.Context, agentID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_agent, to_agent, type, kind, subject, content, digest, reply_to, created_at
		FROM messages WHERE to_agent = ?
		ORDER BY created_at ASC, id ASC
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func scanMessage(row scanner) (*Message, error) {
	var m Message
	var content, replyTo sql.NullString
	var digest sql.NullString
	var createdAt string
	if err := row.Scan(&m.ID, &m.From, &m.To, &m.Type, &m.Kind, &m.Subject, &content, &digest, &replyTo, &createdAt); err != nil {
		return nil, err
	}
	if content.Valid {
		if err := json.Unmarshal([]byte(content.String), &m.Content); err != nil {
			return nil, fmt.Errorf("parsing message content: %w", err)
		}
	}
	m.Digest = digest.String
	m.ReplyTo = replyTo.String
	m.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &m, nil
}

// MarkMessageRead records a read marker. Idempotent.
func (s *SQLiteStore) MarkMessageRead(ctx context.Context, agentID, messageID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO read_status (agent_id, message_id, read_at)
		VALUES (?, ?, ?)
		ON CONFLICT(agent_id, message_id) DO NOTHING
	`, agentID, messageID, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

// ReadMessageIDs returns the set of message ids the agent has marked read.
func (s *SQLiteStore) ReadMessageIDs(ctx context.Context, agentID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id FROM read_status WHERE agent_id = ?
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	read := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		read[id] = true
	}
	return read, rows.Err()
}

// PutTask persists a shared task.
func (s *SQLiteStore) PutTask(ctx context.Context, task *SharedTask) error {
	assignees, err := json.Marshal(task.Assignees)
	if err != nil {
		return fmt.Errorf("marshaling assignees: %w", err)
	}

	var payload *string
	if task.Payload != nil {
		b, err := json.Marshal(task.Payload)
		if err != nil {
			return fmt.Errorf("marshaling payload: %w", err)
		}
		str := string(b)
		payload = &str
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shared_tasks (id, name, description, creator, assignees, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			assignees = excluded.assignees,
			payload = excluded.payload
	`, task.ID, task.Name, task.Description, task.Creator, string(assignees), payload,
		task.CreatedAt.UTC().Format(time.RFC3339Nano))

	return err
}

// GetTask retrieves a shared task by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*SharedTask, error) {
	var t SharedTask
	var assignees string
	var payload sql.NullString
	var createdAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, creator, assignees, payload, created_at
		FROM shared_tasks WHERE id = ?
	`, id).Scan(&t.ID, &t.Name, &t.Description, &t.Creator, &assignees, &payload, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(assignees), &t.Assignees); err != nil {
		return nil, fmt.Errorf("parsing assignees: %w", err)
	}
	if payload.Valid {
		if err := json.Unmarshal([]byte(payload.String), &t.Payload); err != nil {
			return nil, fmt.Errorf("parsing payload: %w", err)
		}
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	return &t, nil
}

// PutTaskStatus upserts one assignee's status entry. The per-row key means
// concurrent reporters never clobber each other's entries. Returns
// ErrNotFound for an unknown task id.
func (s *SQLiteStore) PutTaskStatus(ctx context.Context, taskID, agentID string, entry *TaskStatusEntry) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM shared_tasks WHERE id = ?`, taskID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking task existence: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_status (task_id, agent_id, status, message, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id, agent_id) DO UPDATE SET
			status = excluded.status,
			message = excluded.message,
			updated_at = excluded.updated_at
	`, taskID, agentID, entry.Status, entry.Message, entry.Timestamp.UTC().Format(time.RFC3339Nano))

	return err
}

// GetTaskStatus returns the per-assignee status map for a task.
func (s *SQLiteStore) GetTaskStatus(ctx context.Context, taskID string) (map[string]*TaskStatusEntry, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM shared_tasks WHERE id = ?`, taskID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checking task existence: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, status, message, updated_at FROM task_status WHERE task_id = ?
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	status := make(map[string]*TaskStatusEntry)
	for rows.Next() {
		var agentID, updatedAt string
		var e TaskStatusEntry
		var message sql.NullString
		if err := rows.Scan(&agentID, &e.Status, &message, &updatedAt); err != nil {
			return nil, err
		}
		e.Message = message.String
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, updatedAt)
		status[agentID] = &e
	}
	return status, rows.Err()
}
