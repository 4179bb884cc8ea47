// Package item provides the item registry for Gray Logic Dispatch.
//
// An item is one controlled entity: a light, a valve, a sensor reading. It
// binds a logical driver (LPI type and configuration) to a physical
// interface (PHI id), names the queue group its actions run in, and
// carries the last-known state reported by its LPI.
//
// The registry wraps a Repository with an in-memory cache. The SQLite
// repository persists items and their last-known state in the items table
// created by the embedded migrations.
//
// # Usage
//
//	repo := item.NewSQLiteRepository(db.DB)
//	registry := item.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//	created, err := registry.Seed(ctx, items)
//
//	it, err := registry.GetItem(ctx, "hall.light")
//	cached := it.State.Cached()
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Returned items are deep copies.
package item
