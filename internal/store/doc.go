// Package store is the persistence collaborator of the import engine.
//
// The engine needs three things from a destination:
//   - FindByStableID: owner-scoped existence lookup
//   - ApplyMutations: all-or-nothing application of one collection's writes
//   - ListByOwner: the source collections for export
//
// Two implementations are provided. SQLStore persists entities in a single
// records table on SQLite (default) or PostgreSQL via pgx. MemoryStore keeps
// everything in process and is used by tests and dry runs.
//
// # Records Table
//
//   - UNIQUE(owner_id, collection_name, stable_id): one row per identity per owner
//   - data holds the entity's canonical JSON (local id excluded)
//   - id is the installation-local UUID, never exported
//
// # SQLite Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - single open connection: one writer at a time
//
// Migrations are embedded and applied with goose on Open.
package store
