// ABOUTME: Hub facade wiring store, registry, mailbox, tasks, presence, and events together
// ABOUTME: The embeddable entry point for the inter-agent coordination substrate

package hub

import (
	"fmt"
	"log/slog"

	"github.com/loomworks/relay-hub/internal/config"
	"github.com/loomworks/relay-hub/internal/events"
	"github.com/loomworks/relay-hub/internal/mailbox"
	"github.com/loomworks/relay-hub/internal/presence"
	"github.com/loomworks/relay-hub/internal/registry"
	"github.com/loomworks/relay-hub/internal/store"
	"github.com/loomworks/relay-hub/internal/task"
)

// Hub composes the coordination substrate: one authoritative store, a
// mailbox router over it, the agent registry with presence broadcast, and
// the shared-task coordinator. Embed it directly or serve it over the HTTP
// API in api.go.
type Hub struct {
	Registry *registry.Registry
	Mail     *mailbox.Router
	Tasks    *task.Coordinator
	Bus      *events.Broadcaster

	store  store.Store
	logger *slog.Logger
}

// New opens the configured storage backend and wires the hub components.
func New(cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithStore(st, cfg.Fanout.Workers, logger), nil
}

// NewWithStore wires a hub over an already-open store. The caller keeps
// ownership questions simple: Close closes the store either way.
func NewWithStore(st store.Store, fanoutWorkers int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	bus := events.NewBroadcaster(logger)
	mail := mailbox.NewRouter(st, bus, logger)
	announcer := presence.NewBroadcaster(st, mail, bus, fanoutWorkers, logger)
	reg := registry.NewRegistry(st, announcer, logger)
	coord := task.NewCoordinator(st, mail, bus, fanoutWorkers, logger)

	return &Hub{
		Registry: reg,
		Mail:     mail,
		Tasks:    coord,
		Bus:      bus,
		store:    st,
		logger:   logger.With("component", "hub"),
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "fs":
		return store.NewFSStore(cfg.Storage.Root)
	case "sqlite":
		return store.NewSQLiteStore(cfg.Storage.Path)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Store exposes the underlying store, mainly for the watcher and tests.
func (h *Hub) Store() store.Store {
	return h.store
}

// Close shuts down the event bus and releases the store.
func (h *Hub) Close() error {
	h.Bus.Close()
	return h.store.Close()
}
