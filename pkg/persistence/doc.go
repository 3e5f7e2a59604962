// Package persistence appends chat transcripts to a SQL table on a best-effort basis.
//
// Invariants:
// - Persistence never blocks the chat beyond its configured timeouts and never
//   returns an error to the caller; failures are logged and counted.
// - A nil *Store is the "no connection" value; every method on it is a no-op.
// - Writes submitted through a Writer are applied in submission order.
//
// Usage:
//
//	store := persistence.TryConnect(ctx, cfg) // nil when unavailable
//	defer store.Close()
//	w := persistence.NewWriter(store, queue)
//	w.Persist(ctx, "Usuario", "hola")
//	w.Flush(2 * time.Second)
package persistence
