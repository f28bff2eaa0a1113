package objstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Sentinel errors engines wrap so the core can classify failures.
var (
	// ErrUnavailable means the engine could not be acquired at all.
	ErrUnavailable = errors.New("engine unavailable")

	// ErrConstraint means a unique index rejected a write.
	ErrConstraint = errors.New("constraint violation")

	// ErrNoSuchStore means a store is not declared or not part of the transaction.
	ErrNoSuchStore = errors.New("no such store")

	// ErrReadOnly means a write was attempted in a read-only transaction.
	ErrReadOnly = errors.New("transaction is read-only")

	// ErrVersionTooNew means the stored schema is newer than the requested version.
	ErrVersionTooNew = errors.New("stored version is newer than requested")
)

// Mode selects the transaction kind.
type Mode int

const (
	// ReadOnly transactions may only read.
	ReadOnly Mode = iota
	// ReadWrite transactions may insert records.
	ReadWrite
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "readonly"
	case ReadWrite:
		return "readwrite"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Field names a record metadata field that an index can cover.
type Field string

const (
	FieldName         Field = "name"
	FieldLastModified Field = "lastModified"
	FieldSize         Field = "size"
	FieldMediaType    Field = "type"
)

// IndexableFields lists the fields an index may reference, in canonical order.
var IndexableFields = []Field{FieldName, FieldLastModified, FieldSize, FieldMediaType}

// PayloadKind tells whether a stored value is a binary blob or something else.
type PayloadKind int

const (
	// KindBlob is an opaque binary payload.
	KindBlob PayloadKind = iota + 1
	// KindValue is a structured value that is not a blob.
	KindValue
)

func (k PayloadKind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindValue:
		return "value"
	default:
		return fmt.Sprintf("PayloadKind(%d)", int(k))
	}
}

// RawRecord is one stored unit as the engine sees it.
type RawRecord struct {
	// Key is the surrogate key. Engines assign it for auto-keyed stores.
	Key int64

	Name         string
	LastModified int64 // milliseconds since the Unix epoch
	Size         int64
	MediaType    string

	Kind    PayloadKind
	Payload []byte
}

// IndexSpec describes an index on a store.
type IndexSpec struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
	Unique bool    `json:"unique"`
}

// StoreSpec describes a declared store.
type StoreSpec struct {
	Name          string      `json:"name"`
	AutoIncrement bool        `json:"auto_increment"`
	Indexes       []IndexSpec `json:"indexes"`
}

// Schema is the set of stores a database declares at its current version.
// Stores and their indexes are sorted by name.
type Schema struct {
	Version int         `json:"version"`
	Stores  []StoreSpec `json:"stores"`
}

// Store returns the spec for the named store.
func (s Schema) Store(name string) (StoreSpec, bool) {
	for _, st := range s.Stores {
		if st.Name == name {
			return st, true
		}
	}
	return StoreSpec{}, false
}

// StoreNames returns the declared store names in sorted order.
func (s Schema) StoreNames() []string {
	names := make([]string, len(s.Stores))
	for i, st := range s.Stores {
		names[i] = st.Name
	}
	return names
}

// Normalize sorts stores and indexes by name so two schemas can be compared.
func (s Schema) Normalize() Schema {
	out := Schema{Version: s.Version, Stores: make([]StoreSpec, len(s.Stores))}
	for i, st := range s.Stores {
		st.Indexes = slices.Clone(st.Indexes)
		slices.SortFunc(st.Indexes, func(a, b IndexSpec) int { return strings.Compare(a.Name, b.Name) })
		out.Stores[i] = st
	}
	slices.SortFunc(out.Stores, func(a, b StoreSpec) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Engine opens versioned databases.
type Engine interface {
	// OpenDatabase opens or creates the named database. When the stored
	// version is below version, upgrade is called exactly once inside a
	// single engine transaction; if it fails nothing it did is kept and the
	// database is not opened.
	OpenDatabase(ctx context.Context, name string, version int, upgrade UpgradeFunc) (Database, error)
}

// UpgradeFunc brings a database schema from up.OldVersion() to up.NewVersion().
type UpgradeFunc func(ctx context.Context, up Upgrader) error

// Upgrader is the schema-changing surface available during an upgrade.
type Upgrader interface {
	OldVersion() int
	NewVersion() int
	CreateStore(ctx context.Context, name string, autoIncrement bool) error
	CreateIndex(ctx context.Context, store string, index IndexSpec) error
}

// Database is an open, versioned connection. It is safe for concurrent use;
// callers share it read-only and never mutate it outside transactions.
type Database interface {
	Name() string
	Version() int
	Schema() Schema
	Begin(ctx context.Context, stores []string, mode Mode) (Txn, error)
	Close() error
}

// Txn is one engine transaction scoped to a set of stores.
// A Txn is used from a single goroutine.
type Txn interface {
	// GetAll returns every record of the store in key order.
	GetAll(ctx context.Context, store string) ([]RawRecord, error)
	// Insert adds a record and returns its key.
	Insert(ctx context.Context, store string, rec RawRecord) (int64, error)
	Commit() error
	Rollback() error
}

var identRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidateStoreName checks that a store or index name is a plain identifier.
// Engines use the name to derive table and bucket names.
func ValidateStoreName(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid name %q: must match %s", name, identRe)
	}
	return nil
}

// ValidateIndex checks an index spec before an engine creates it.
func ValidateIndex(index IndexSpec) error {
	if err := ValidateStoreName(index.Name); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if len(index.Fields) == 0 {
		return fmt.Errorf("index %q: no fields", index.Name)
	}
	seen := make(map[Field]bool, len(index.Fields))
	for _, f := range index.Fields {
		if !slices.Contains(IndexableFields, f) {
			return fmt.Errorf("index %q: unknown field %q", index.Name, f)
		}
		if seen[f] {
			return fmt.Errorf("index %q: duplicate field %q", index.Name, f)
		}
		seen[f] = true
	}
	return nil
}

// FieldValue returns the value of an indexable field of rec.
func FieldValue(rec RawRecord, f Field) any {
	switch f {
	case FieldName:
		return rec.Name
	case FieldLastModified:
		return rec.LastModified
	case FieldSize:
		return rec.Size
	case FieldMediaType:
		return rec.MediaType
	default:
		return nil
	}
}
