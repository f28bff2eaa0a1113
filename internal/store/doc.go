// Package store implements the objstore engine contract on SQLite.
//
// Layout:
//   - objstore_stores / objstore_indexes: declared stores and indexes
//   - store_<name>: one record table per store, keyed by an INTEGER PRIMARY KEY
//     (AUTOINCREMENT for auto-keyed stores, so keys are never reused)
//   - idx_<store>_<index>: one SQLite index per declared index
//
// The schema version is PRAGMA user_version. An upgrade runs in a single
// transaction together with the version bump, so a failed migration leaves
// both the schema and the version untouched.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes (file databases only)
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - One pooled connection: transactions never interleave
package store
