// ABOUTME: Tests for the workspace file watcher
// ABOUTME: Verifies message files written by other processes surface as events

package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/relay-hub/internal/events"
)

func startWatcher(t *testing.T, root string, bus *events.Broadcaster) {
	t.Helper()
	w, err := New(root, bus, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = w.Run(ctx) }()
}

func waitForEvent(t *testing.T, ch <-chan *events.Event) *events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch event")
		return nil
	}
}

func TestWatcher_ExistingMailbox(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a1", "messages"), 0o755))

	bus := events.NewBroadcaster(nil)
	defer bus.Close()
	ch, _ := bus.Subscribe(context.Background(), "a1")

	startWatcher(t, root, bus)

	// Simulate a sibling process delivering a message file.
	path := filepath.Join(root, "a1", "messages", "msg-123.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"msg-123"}`), 0o644))

	ev := waitForEvent(t, ch)
	assert.Equal(t, events.TypeMessage, ev.Type)
	assert.Equal(t, "a1", ev.AgentID)
	assert.Equal(t, "msg-123", ev.Payload["messageId"])
	assert.Equal(t, "watch", ev.Payload["source"])
}

func TestWatcher_NewAgentDirectoryPickedUp(t *testing.T) {
	root := t.TempDir()

	bus := events.NewBroadcaster(nil)
	defer bus.Close()
	ch, _ := bus.Subscribe(context.Background(), "late")

	startWatcher(t, root, bus)

	// An agent directory created after the watcher started must still be
	// observed. Stagger the directory creations so each create event is
	// handled before the next level appears.
	require.NoError(t, os.Mkdir(filepath.Join(root, "late"), 0o755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.Mkdir(filepath.Join(root, "late", "messages"), 0o755))
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(root, "late", "messages", "m1.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"id":"m1"}`), 0o644))

	ev := waitForEvent(t, ch)
	assert.Equal(t, "m1", ev.Payload["messageId"])
}

func TestWatcher_IgnoresNoise(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a1", "messages"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "shared-tasks"), 0o755))

	bus := events.NewBroadcaster(nil)
	defer bus.Close()
	all, _ := bus.Subscribe(context.Background(), events.TopicAll)

	startWatcher(t, root, bus)

	// Lock files, temp snapshots, task files, and non-JSON files are not
	// messages.
	require.NoError(t, os.WriteFile(filepath.Join(root, "a1", "messages", ".m1.json.tmp-1"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".agents.lock"), nil, 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "shared-tasks", "t1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a1", "messages", "notes.txt"), []byte("x"), 0o644))

	select {
	case ev := <-all:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}
