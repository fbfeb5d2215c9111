// Package store provides SQL-backed storage of sheets for sheetdb.
//
// A sheet is a named, ordered collection of rows. Every row has:
//   - id: positive integer identifier, unique within the sheet
//   - seq: insertion position, used for default ordering
//   - payload: the row's field values as a JSON object
//
// Live tables and their history tables are both sheets; soft deletion is a
// Move between them.
//
// # Invariants
//
// Identifiers are never reused. The sequences table keeps a high-water mark
// per table, seeded from max(id) across the live and history sheets.
//
// Move is atomic. The history insert and the live delete run in one SQL
// transaction, so a row is always in exactly one of the two sheets.
//
// Scan results are ordered by seq ASC, id ASC.
//
// # Backends
//
//   - sqlite3 (default): WAL mode, synchronous=NORMAL, busy_timeout=5000,
//     single connection
//   - mysql: parseTime enabled, schema applied statement by statement
package store
