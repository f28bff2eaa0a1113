package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/assetdb/internal/objstore"
)

// columns maps indexable fields to record-table columns.
var columns = map[objstore.Field]string{
	objstore.FieldName:         "name",
	objstore.FieldLastModified: "last_modified",
	objstore.FieldSize:         "size",
	objstore.FieldMediaType:    "media_type",
}

func tableName(store string) string { return `"store_` + store + `"` }

func indexName(store, index string) string { return `"idx_` + store + `_` + index + `"` }

// upgrader creates stores and indexes inside the upgrade transaction.
type upgrader struct {
	tx  *sql.Tx
	old int
	new int
}

func (u *upgrader) OldVersion() int { return u.old }
func (u *upgrader) NewVersion() int { return u.new }

// CreateStore adds a record table and registers it in objstore_stores.
func (u *upgrader) CreateStore(ctx context.Context, name string, autoIncrement bool) error {
	if err := objstore.ValidateStoreName(name); err != nil {
		return err
	}

	// The primary key on objstore_stores rejects a second declaration.
	if _, err := u.tx.ExecContext(ctx,
		`INSERT INTO objstore_stores (name, auto_increment) VALUES (?, ?)`,
		name, boolToInt(autoIncrement),
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store %q already exists", name)
		}
		return fmt.Errorf("register store: %w", err)
	}

	key := "key INTEGER PRIMARY KEY"
	if autoIncrement {
		key += " AUTOINCREMENT"
	}
	_, err := u.tx.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE %s (
			%s,
			name TEXT NOT NULL DEFAULT '',
			last_modified INTEGER NOT NULL DEFAULT 0,
			size INTEGER NOT NULL DEFAULT 0,
			media_type TEXT NOT NULL DEFAULT '',
			kind INTEGER NOT NULL,
			payload BLOB
		)
	`, tableName(name), key))
	if err != nil {
		return fmt.Errorf("create table for %q: %w", name, err)
	}
	return nil
}

// CreateIndex adds an index on an existing store. A unique index over rows
// that already collide fails and takes the whole upgrade down with it.
func (u *upgrader) CreateIndex(ctx context.Context, store string, index objstore.IndexSpec) error {
	if err := objstore.ValidateIndex(index); err != nil {
		return err
	}

	var exists int
	if err := u.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM objstore_stores WHERE name = ?`, store,
	).Scan(&exists); err != nil {
		return fmt.Errorf("look up store: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("store %q: %w", store, objstore.ErrNoSuchStore)
	}

	fields := make([]string, len(index.Fields))
	cols := make([]string, len(index.Fields))
	for i, f := range index.Fields {
		fields[i] = string(f)
		cols[i] = columns[f]
	}

	if _, err := u.tx.ExecContext(ctx,
		`INSERT INTO objstore_indexes (store, name, fields, is_unique) VALUES (?, ?, ?, ?)`,
		store, index.Name, strings.Join(fields, ","), boolToInt(index.Unique),
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("index %q on %q already exists", index.Name, store)
		}
		return fmt.Errorf("register index: %w", err)
	}

	unique := ""
	if index.Unique {
		unique = "UNIQUE "
	}
	if _, err := u.tx.ExecContext(ctx, fmt.Sprintf(`CREATE %sINDEX %s ON %s (%s)`,
		unique, indexName(store, index.Name), tableName(store), strings.Join(cols, ", "),
	)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("existing records violate index %q: %w", index.Name, objstore.ErrConstraint)
		}
		return fmt.Errorf("create index %q: %w", index.Name, err)
	}
	return nil
}

// Txn is a SQLite transaction scoped to a set of stores.
type Txn struct {
	tx     *sql.Tx
	mode   objstore.Mode
	stores []string
	schema objstore.Schema
}

var _ objstore.Txn = (*Txn)(nil)

func (t *Txn) check(store string) error {
	if !slices.Contains(t.stores, store) {
		return fmt.Errorf("store %q not in transaction: %w", store, objstore.ErrNoSuchStore)
	}
	return nil
}

// Insert adds a record. Unique index violations wrap objstore.ErrConstraint.
func (t *Txn) Insert(ctx context.Context, store string, rec objstore.RawRecord) (int64, error) {
	if err := t.check(store); err != nil {
		return 0, err
	}
	if t.mode != objstore.ReadWrite {
		return 0, objstore.ErrReadOnly
	}
	spec, _ := t.schema.Store(store)
	if rec.Kind == 0 {
		rec.Kind = objstore.KindBlob
	}

	var (
		result sql.Result
		err    error
	)
	if spec.AutoIncrement {
		result, err = t.tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (name, last_modified, size, media_type, kind, payload)
			VALUES (?, ?, ?, ?, ?, ?)
		`, tableName(store)),
			rec.Name, rec.LastModified, rec.Size, rec.MediaType, int(rec.Kind), rec.Payload,
		)
	} else {
		if rec.Key == 0 {
			return 0, fmt.Errorf("store %q is not auto-keyed: record key required", store)
		}
		result, err = t.tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (key, name, last_modified, size, media_type, kind, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, tableName(store)),
			rec.Key, rec.Name, rec.LastModified, rec.Size, rec.MediaType, int(rec.Kind), rec.Payload,
		)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("insert into %q: %w: %w", store, objstore.ErrConstraint, err)
		}
		return 0, fmt.Errorf("insert into %q: %w", store, err)
	}

	key, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert into %q: last insert id: %w", store, err)
	}
	return key, nil
}

// Commit commits the transaction.
func (t *Txn) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards the transaction. Rolling back twice is not an error.
func (t *Txn) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE or PRIMARY KEY failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
