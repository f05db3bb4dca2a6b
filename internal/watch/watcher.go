// ABOUTME: Workspace file watcher for multi-process deployments
// ABOUTME: Publishes mailbox events when sibling hub processes write message files

package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/loomworks/relay-hub/internal/events"
)

// Watcher observes a shared workspace directory and publishes a mailbox
// event whenever a message file appears. In a deployment where several hub
// processes share one workspace, this is how one process learns about
// messages another process delivered. Observers of a local send may see
// both the router's event and the watcher's; watcher events carry
// "source": "watch" so they can be told apart.
type Watcher struct {
	root   string
	bus    *events.Broadcaster
	fsw    *fsnotify.Watcher
	logger *slog.Logger
}

// New creates a watcher over the workspace rooted at root, watching the
// root itself plus every existing mailbox directory.
func New(root string, bus *events.Broadcaster, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:   root,
		bus:    bus,
		fsw:    fsw,
		logger: logger.With("component", "watch"),
	}

	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}
	if err := w.addExistingMailboxes(); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// addExistingMailboxes registers watches on every agent directory and
// mailbox already present in the workspace.
func (w *Watcher) addExistingMailboxes() error {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("scanning workspace: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == "shared-tasks" || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		w.watchAgentDir(filepath.Join(w.root, entry.Name()))
	}
	return nil
}

// watchAgentDir watches an agent directory and its messages subdirectory if
// present. A missing messages directory is picked up later via the create
// event on the agent directory.
func (w *Watcher) watchAgentDir(dir string) {
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn("cannot watch agent directory", "dir", dir, "error", err)
		return
	}
	msgDir := filepath.Join(dir, "messages")
	if info, err := os.Stat(msgDir); err == nil && info.IsDir() {
		if err := w.fsw.Add(msgDir); err != nil {
			w.logger.Warn("cannot watch mailbox directory", "dir", msgDir, "error", err)
		}
	}
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	w.logger.Info("workspace watcher started", "root", w.root)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				w.handleCreate(event.Name)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// handleCreate classifies a created path: new agent directory, new mailbox
// directory, or a delivered message file.
func (w *Watcher) handleCreate(path string) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return // lock files and temp snapshots
	}

	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if parts[0] == "shared-tasks" {
		return
	}

	switch len(parts) {
	case 1:
		// New agent directory at the workspace root.
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.watchAgentDir(path)
		}
	case 2:
		// New messages directory under an agent.
		if base == "messages" {
			if err := w.fsw.Add(path); err != nil {
				w.logger.Warn("cannot watch mailbox directory", "dir", path, "error", err)
			}
		}
	case 3:
		// A message file landed in a mailbox.
		if parts[1] != "messages" || !strings.HasSuffix(base, ".json") {
			return
		}
		agentID := parts[0]
		messageID := strings.TrimSuffix(base, ".json")
		w.logger.Debug("message file observed", "agent_id", agentID, "message_id", messageID)
		w.bus.Publish(agentID, &events.Event{
			Type:    events.TypeMessage,
			AgentID: agentID,
			Payload: map[string]any{
				"messageId": messageID,
				"source":    "watch",
			},
		})
	}
}
