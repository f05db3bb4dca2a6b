// Package store provides durable storage for the relay hub.
//
// # Architecture
//
// Store is the single narrow interface behind which all hub state lives:
// agent records, per-agent mailboxes, read markers, and shared tasks with
// their per-assignee status. Everything above it (registry, mailbox router,
// task coordinator) treats in-memory structures as caches, never as the
// source of truth.
//
// Three backends implement the interface:
//
//   - FSStore: the canonical shared workspace layout, one directory tree
//     that several hub processes may point at concurrently
//   - SQLiteStore: single-process embedding backend on modernc.org/sqlite
//     with WAL mode
//   - MemoryStore: ephemeral backend for tests
//
// # Workspace layout
//
// FSStore persists exactly this tree:
//
//	<root>/agents.json
//	<root>/read-status.json
//	<root>/<agentId>/messages/<messageId>.json
//	<root>/shared-tasks/<taskId>/task-data.json
//	<root>/shared-tasks/<taskId>/status.json
//
// Snapshot files (agents, read status, task status) are rewritten via temp
// file plus rename and guarded by a keyed mutex in-process and an advisory
// flock across processes. Message files are written once with O_EXCL and
// never modified.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateMessage: Message id already committed
//
// All methods accept context.Context for cancellation support.
package store
