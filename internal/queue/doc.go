// Package queue provides the offline command queue for Column Relay.
//
// When a command targets a device with no live session, it is held here
// until the device reconnects. The queue is a per-device bounded FIFO:
// each device keeps at most the cap most recent commands, and exceeding
// the cap evicts the oldest entry (ring-buffer semantics). Enqueue never
// blocks and never fails from the caller's point of view.
//
// # Durability
//
// The in-memory state is mirrored to SQLite, one row per device, rewritten
// on every mutation. Command rates are low (human-issued), so full-row
// rewrites are cheaper than correctness arguments about partial updates.
// A missing or corrupt row degrades to an empty queue; persistence failures
// are logged and the queue continues in memory.
//
// # Concurrency
//
// Access is serialised per device identifier via sharded locking, so one
// device's churn cannot stall another's. Enqueue and Drain for the same
// device are linearizable with respect to each other: Drain is an atomic
// pop-all, and nothing enqueued after a Drain starts can be lost or
// reordered ahead of earlier entries.
//
// # Usage
//
//	repo, err := queue.NewSQLiteRepository(db.DB)
//	store := queue.NewStore(10, repo)
//	store.SetLogger(log)
//	store.Load(ctx)                             // restore state on startup
//	store.Enqueue(ctx, "esp-1", payload)        // device offline
//	cmds := store.Drain(ctx, "esp-1")           // device reconnected
package queue
