// Package engine implements the sheetdb data engine.
//
// A Database is an explicit handle created once with Init and passed to
// every caller. It owns the schema registry, the record store, the per-table
// write guard and the query cache. There is no package-level state.
//
// ARCHITECTURE:
//
// Write path:
// 1. Look up the table in the registry (unknown names are caller misuse)
// 2. Validate and coerce the input outside any lock
// 3. Acquire the table's lock (bounded wait, LockTimeoutError on expiry)
// 4. Read current state, write, commit
// 5. Invalidate the table's cache entries, release the lock
//
// Read path:
// Reads never take the lock. They may observe the state before an in-flight
// write commits; read after a confirmed write for strict consistency.
//
// Removal:
// Removing a record moves it to the table's history sheet in one SQL
// transaction. A record is always in exactly one of {live, history}.
// Identifiers are never reused, even after the highest id is removed.
//
// Cascade:
// RemoveWithCascade clears junction rows before the parent, taking each
// table's lock independently. A failure part way leaves the parent in place
// and never leaves junction rows pointing at a removed parent.
//
// Record values:
// Stored payloads are re-coerced through the table schema on every read, so
// numbers come back as float64, dates as time.Time in UTC and the id as int64.
package engine
