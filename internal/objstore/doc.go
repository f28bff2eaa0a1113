// Package objstore provides a versioned, transactional object-store
// abstraction over a pluggable storage engine.
//
// The package has three parts:
//   - Engine contract: Engine, Database, Txn and Upgrader describe the
//     capability a concrete backend (SQLite, bbolt) must provide.
//   - Schema management: Open brings a named database up to a target
//     version by running version-gated MigrationSteps exactly once each.
//   - Transactions: Run executes a unit of work against a fixed set of
//     stores and either commits all of its writes or none of them.
//
// # Store Model
//
// A store is a named collection of records. Every store declared through a
// migration is auto-keyed (the engine assigns an increasing surrogate key)
// and may carry one or more unique indexes over the record metadata fields
// name, lastModified, size and type. Records come back from GetAll in key
// order, which is insertion order.
//
// # Error Classification
//
// Engines report failures with plain wrapped errors. The package classifies
// them before handing them to callers:
//   - OpenError: EngineUnavailable, MigrationFailed
//   - TransactionError: UnknownStore, OpenFailed, Aborted
//   - StoreError: AlreadyExists, NotFound, Io
//
// Engines mark uniqueness violations by wrapping ErrConstraint and missing
// stores by wrapping ErrNoSuchStore.
//
// # Schema Evolution
//
// Evolution is forward-only. A migration may create stores and indexes but
// never drops or alters them, and a database whose stored version is newer
// than the requested one is refused rather than downgraded.
package objstore
