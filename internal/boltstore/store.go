// Package boltstore implements the objstore engine contract on bbolt.
//
// Every store is a top-level bucket "store/<name>" whose keys are 8-byte
// big-endian sequence numbers, so cursor order is insertion order. Each
// index is a bucket "index/<store>/<index>" mapping the encoded field tuple
// to the record key. The schema and version live in the "objstore" bucket.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/roach88/assetdb/internal/objstore"
)

const (
	metaBucket = "objstore"
	versionKey = "version"
	schemaKey  = "schema"
)

func storeBucket(name string) []byte { return []byte("store/" + name) }

func indexBucket(store, index string) []byte { return []byte("index/" + store + "/" + index) }

// Engine opens bbolt-backed object-store databases.
// Each database lives in <Dir>/<name>.bolt.
type Engine struct {
	Dir     string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewEngine creates an engine rooted at dir.
func NewEngine(dir string) *Engine {
	return &Engine{Dir: dir, Timeout: time.Second, Logger: slog.Default()}
}

var _ objstore.Engine = (*Engine)(nil)

// Path returns the file backing the named database.
func (e *Engine) Path(name string) string {
	return filepath.Join(e.Dir, name+".bolt")
}

// OpenDatabase opens or creates the named database and upgrades it to version.
func (e *Engine) OpenDatabase(ctx context.Context, name string, version int, upgrade objstore.UpgradeFunc) (objstore.Database, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid database name %q: %w", name, objstore.ErrUnavailable)
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w: %w", objstore.ErrUnavailable, err)
	}
	path := filepath.Clean(e.Path(name))
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: e.Timeout})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w: %w", objstore.ErrUnavailable, err)
	}

	var schema objstore.Schema
	err = db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		if err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		schema, err = readSchema(meta)
		if err != nil {
			return err
		}
		current := readVersion(meta)
		if current > version {
			return fmt.Errorf("database at version %d, requested %d: %w", current, version, objstore.ErrVersionTooNew)
		}
		if current == version {
			return nil
		}

		if upgrade != nil {
			up := &upgrader{tx: tx, schema: &schema, old: current, new: version}
			if err := upgrade(ctx, up); err != nil {
				return fmt.Errorf("upgrade from %d to %d: %w", current, version, err)
			}
		}
		if err := writeSchema(meta, schema); err != nil {
			return err
		}
		return meta.Put([]byte(versionKey), encodeKey(int64(version)))
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	schema.Version = version
	schema = schema.Normalize()

	logger.Debug("bolt database ready", "path", path, "version", version, "stores", len(schema.Stores))
	return &Database{name: name, version: version, schema: schema, db: db}, nil
}

func readVersion(meta *bbolt.Bucket) int {
	v := meta.Get([]byte(versionKey))
	if len(v) != 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(v))
}

func readSchema(meta *bbolt.Bucket) (objstore.Schema, error) {
	var schema objstore.Schema
	payload := meta.Get([]byte(schemaKey))
	if payload == nil {
		return schema, nil
	}
	if err := json.Unmarshal(payload, &schema); err != nil {
		return schema, fmt.Errorf("unmarshal schema: %w", err)
	}
	return schema, nil
}

func writeSchema(meta *bbolt.Bucket, schema objstore.Schema) error {
	payload, err := json.Marshal(schema.Normalize())
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	return meta.Put([]byte(schemaKey), payload)
}

func encodeKey(k int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(k))
	return b
}

// Database is an open bbolt object-store database.
type Database struct {
	name    string
	version int
	schema  objstore.Schema
	db      *bbolt.DB
}

var _ objstore.Database = (*Database)(nil)

// Name returns the database name.
func (d *Database) Name() string { return d.name }

// Version returns the schema version the database was opened at.
func (d *Database) Version() int { return d.version }

// Schema returns the declared stores.
func (d *Database) Schema() objstore.Schema {
	out := d.schema
	out.Stores = append([]objstore.StoreSpec(nil), d.schema.Stores...)
	return out
}

// Close closes the underlying BoltDB database.
func (d *Database) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Begin starts a transaction. bbolt allows one writer at a time; readers
// see a consistent snapshot.
func (d *Database) Begin(ctx context.Context, stores []string, mode objstore.Mode) (objstore.Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, name := range stores {
		if _, ok := d.schema.Store(name); !ok {
			return nil, fmt.Errorf("begin: store %q: %w", name, objstore.ErrNoSuchStore)
		}
	}
	tx, err := d.db.Begin(mode == objstore.ReadWrite)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Txn{tx: tx, mode: mode, stores: stores, schema: d.schema}, nil
}

// upgrader mutates buckets and the in-memory schema during an upgrade.
type upgrader struct {
	tx     *bbolt.Tx
	schema *objstore.Schema
	old    int
	new    int
}

func (u *upgrader) OldVersion() int { return u.old }
func (u *upgrader) NewVersion() int { return u.new }

func (u *upgrader) CreateStore(ctx context.Context, name string, autoIncrement bool) error {
	if err := objstore.ValidateStoreName(name); err != nil {
		return err
	}
	if _, ok := u.schema.Store(name); ok {
		return fmt.Errorf("store %q already exists", name)
	}
	if _, err := u.tx.CreateBucket(storeBucket(name)); err != nil {
		return fmt.Errorf("create bucket for %q: %w", name, err)
	}
	u.schema.Stores = append(u.schema.Stores, objstore.StoreSpec{Name: name, AutoIncrement: autoIncrement})
	return nil
}

func (u *upgrader) CreateIndex(ctx context.Context, store string, index objstore.IndexSpec) error {
	if err := objstore.ValidateIndex(index); err != nil {
		return err
	}
	pos := -1
	for i, st := range u.schema.Stores {
		if st.Name == store {
			pos = i
		}
	}
	if pos < 0 {
		return fmt.Errorf("store %q: %w", store, objstore.ErrNoSuchStore)
	}
	for _, idx := range u.schema.Stores[pos].Indexes {
		if idx.Name == index.Name {
			return fmt.Errorf("index %q on %q already exists", index.Name, store)
		}
	}

	ib, err := u.tx.CreateBucket(indexBucket(store, index.Name))
	if err != nil {
		return fmt.Errorf("create index bucket %q: %w", index.Name, err)
	}

	// Backfill from existing records.
	sb := u.tx.Bucket(storeBucket(store))
	err = sb.ForEach(func(k, v []byte) error {
		rec, err := decodeRecord(v)
		if err != nil {
			return err
		}
		ik, err := indexKey(index, rec)
		if err != nil {
			return err
		}
		if index.Unique && ib.Get(ik) != nil {
			return fmt.Errorf("existing records violate index %q: %w", index.Name, objstore.ErrConstraint)
		}
		return ib.Put(ik, k)
	})
	if err != nil {
		return err
	}

	u.schema.Stores[pos].Indexes = append(u.schema.Stores[pos].Indexes, index)
	return nil
}

// indexKey encodes the indexed field values of rec.
func indexKey(index objstore.IndexSpec, rec objstore.RawRecord) ([]byte, error) {
	values := make([]any, len(index.Fields))
	for i, f := range index.Fields {
		values[i] = objstore.FieldValue(rec, f)
	}
	key, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode index key: %w", err)
	}
	return key, nil
}

// storedRecord is the on-disk form of a record.
type storedRecord struct {
	Name         string `json:"name"`
	LastModified int64  `json:"lastModified"`
	Size         int64  `json:"size"`
	MediaType    string `json:"type"`
	Kind         int    `json:"kind"`
	Payload      []byte `json:"payload"`
}

func encodeRecord(rec objstore.RawRecord) ([]byte, error) {
	return json.Marshal(storedRecord{
		Name:         rec.Name,
		LastModified: rec.LastModified,
		Size:         rec.Size,
		MediaType:    rec.MediaType,
		Kind:         int(rec.Kind),
		Payload:      rec.Payload,
	})
}

func decodeRecord(v []byte) (objstore.RawRecord, error) {
	var sr storedRecord
	if err := json.Unmarshal(v, &sr); err != nil {
		return objstore.RawRecord{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return objstore.RawRecord{
		Name:         sr.Name,
		LastModified: sr.LastModified,
		Size:         sr.Size,
		MediaType:    sr.MediaType,
		Kind:         objstore.PayloadKind(sr.Kind),
		Payload:      sr.Payload,
	}, nil
}

// Txn is a bbolt transaction scoped to a set of stores.
type Txn struct {
	tx     *bbolt.Tx
	mode   objstore.Mode
	stores []string
	schema objstore.Schema
	done   bool
}

var _ objstore.Txn = (*Txn)(nil)

func (t *Txn) bucket(store string) (*bbolt.Bucket, error) {
	granted := false
	for _, s := range t.stores {
		if s == store {
			granted = true
		}
	}
	if !granted {
		return nil, fmt.Errorf("store %q not in transaction: %w", store, objstore.ErrNoSuchStore)
	}
	b := t.tx.Bucket(storeBucket(store))
	if b == nil {
		return nil, fmt.Errorf("store %q bucket is missing: %w", store, objstore.ErrNoSuchStore)
	}
	return b, nil
}

// GetAll returns every record of store in key order.
func (t *Txn) GetAll(ctx context.Context, store string) ([]objstore.RawRecord, error) {
	b, err := t.bucket(store)
	if err != nil {
		return nil, err
	}
	records := []objstore.RawRecord{}
	err = b.ForEach(func(k, v []byte) error {
		rec, err := decodeRecord(v)
		if err != nil {
			return fmt.Errorf("record %x: %w", k, err)
		}
		rec.Key = int64(binary.BigEndian.Uint64(k))
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", store, err)
	}
	return records, nil
}

// Insert adds a record, checking every unique index first.
func (t *Txn) Insert(ctx context.Context, store string, rec objstore.RawRecord) (int64, error) {
	b, err := t.bucket(store)
	if err != nil {
		return 0, err
	}
	if t.mode != objstore.ReadWrite {
		return 0, objstore.ErrReadOnly
	}
	spec, _ := t.schema.Store(store)
	if rec.Kind == 0 {
		rec.Kind = objstore.KindBlob
	}

	keys := make([][]byte, len(spec.Indexes))
	for i, index := range spec.Indexes {
		ik, err := indexKey(index, rec)
		if err != nil {
			return 0, err
		}
		if index.Unique && t.tx.Bucket(indexBucket(store, index.Name)).Get(ik) != nil {
			return 0, fmt.Errorf("insert into %q: index %q: %w", store, index.Name, objstore.ErrConstraint)
		}
		keys[i] = ik
	}

	key := rec.Key
	if spec.AutoIncrement {
		seq, err := b.NextSequence()
		if err != nil {
			return 0, fmt.Errorf("insert into %q: next sequence: %w", store, err)
		}
		key = int64(seq)
	} else if key == 0 {
		return 0, fmt.Errorf("store %q is not auto-keyed: record key required", store)
	} else if b.Get(encodeKey(key)) != nil {
		return 0, fmt.Errorf("insert into %q: key %d: %w", store, key, objstore.ErrConstraint)
	}

	payload, err := encodeRecord(rec)
	if err != nil {
		return 0, fmt.Errorf("insert into %q: %w", store, err)
	}
	if err := b.Put(encodeKey(key), payload); err != nil {
		return 0, fmt.Errorf("insert into %q: %w", store, err)
	}
	for i, index := range spec.Indexes {
		if err := t.tx.Bucket(indexBucket(store, index.Name)).Put(keys[i], encodeKey(key)); err != nil {
			return 0, fmt.Errorf("insert into %q: index %q: %w", store, index.Name, err)
		}
	}
	return key, nil
}

// Commit commits a read-write transaction and closes a read-only one.
func (t *Txn) Commit() error {
	if t.done {
		return bbolt.ErrTxClosed
	}
	t.done = true
	if !t.tx.Writable() {
		return t.tx.Rollback()
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards the transaction. Rolling back twice is not an error.
func (t *Txn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, bbolt.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
