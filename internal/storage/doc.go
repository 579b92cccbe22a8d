// Package storage persists the set of records that were already processed.
//
// Every backend implements Store: list, find, create and delete of Keyed
// items. The pipeline only ever talks to that surface.
//
// Backends:
//   - MemStore:    in-process, lock-guarded ordered slice (no durability)
//   - FileStore:   MemStore semantics plus a JSON-lines journal and snapshot
//   - SQLStore:    one relational table keyed by the item's key columns
//     (SQLite via modernc.org/sqlite or Postgres via pgx)
//   - DynamoStore: one DynamoDB table, items are attribute maps
//
// Only SQLStore enforces key uniqueness; its Create reports ErrConflict when
// the key already exists. The other backends append duplicates silently and
// rely on a single writer per key.
package storage
