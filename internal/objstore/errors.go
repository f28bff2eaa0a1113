package objstore

import (
	"errors"
	"fmt"
)

// OpenErrorKind categorizes failures of Open.
type OpenErrorKind string

const (
	// EngineUnavailable means the engine could not be acquired.
	EngineUnavailable OpenErrorKind = "ENGINE_UNAVAILABLE"

	// MigrationFailed means a schema step failed; the database was not opened.
	MigrationFailed OpenErrorKind = "MIGRATION_FAILED"
)

// OpenError is returned by Open.
type OpenError struct {
	Kind    OpenErrorKind
	Name    string // database name
	Version int    // requested version
	Err     error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s: open %q at version %d: %v", e.Kind, e.Name, e.Version, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// TransactionErrorKind categorizes failures of Run.
type TransactionErrorKind string

const (
	// UnknownStore means a requested store is not declared. No work ran.
	UnknownStore TransactionErrorKind = "UNKNOWN_STORE"

	// OpenFailed means the engine refused to begin the transaction. No work ran.
	OpenFailed TransactionErrorKind = "OPEN_FAILED"

	// Aborted means the work or the commit failed and every write was discarded.
	Aborted TransactionErrorKind = "ABORTED"
)

// TransactionError is returned by Run.
type TransactionError struct {
	Kind  TransactionErrorKind
	Store string // set for UnknownStore
	Err   error
}

func (e *TransactionError) Error() string {
	if e.Store != "" {
		return fmt.Sprintf("%s: store %q: %v", e.Kind, e.Store, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// StoreErrorKind classifies failures of store operations inside a transaction.
type StoreErrorKind string

const (
	// AlreadyExists means a unique index rejected the insert.
	AlreadyExists StoreErrorKind = "ALREADY_EXISTS"

	// NotFound means the store is not part of the open transaction.
	NotFound StoreErrorKind = "NOT_FOUND"

	// Io is any other engine-level failure.
	Io StoreErrorKind = "IO"
)

// StoreError is what work sees when a store operation fails.
type StoreError struct {
	Kind  StoreErrorKind
	Store string
	Op    string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s %q: %v", e.Kind, e.Op, e.Store, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// classify turns a raw engine error into a StoreError.
func classify(store, op string, err error) *StoreError {
	var se *StoreError
	if errors.As(err, &se) {
		return se
	}
	kind := Io
	switch {
	case errors.Is(err, ErrConstraint):
		kind = AlreadyExists
	case errors.Is(err, ErrNoSuchStore):
		kind = NotFound
	}
	return &StoreError{Kind: kind, Store: store, Op: op, Err: err}
}

// IsAlreadyExists reports whether err is, or wraps, a uniqueness violation.
func IsAlreadyExists(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind == AlreadyExists
	}
	return false
}

// IsNotFound reports whether err is, or wraps, a StoreError of kind NotFound.
func IsNotFound(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind == NotFound
	}
	return false
}

// IsUnknownStore reports whether err is a TransactionError of kind UnknownStore.
func IsUnknownStore(err error) bool {
	var te *TransactionError
	if errors.As(err, &te) {
		return te.Kind == UnknownStore
	}
	return false
}

// IsAborted reports whether err is a TransactionError of kind Aborted.
func IsAborted(err error) bool {
	var te *TransactionError
	if errors.As(err, &te) {
		return te.Kind == Aborted
	}
	return false
}

// IsMigrationFailed reports whether err is an OpenError of kind MigrationFailed.
func IsMigrationFailed(err error) bool {
	var oe *OpenError
	if errors.As(err, &oe) {
		return oe.Kind == MigrationFailed
	}
	return false
}

// IsEngineUnavailable reports whether err is an OpenError of kind EngineUnavailable.
func IsEngineUnavailable(err error) bool {
	var oe *OpenError
	if errors.As(err, &oe) {
		return oe.Kind == EngineUnavailable
	}
	return false
}
