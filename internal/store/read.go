package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/assetdb/internal/objstore"
)

// GetAll returns every record of store ordered by key, which for auto-keyed
// stores is insertion order.
//
// Returns an empty slice (not nil) if the store holds no records.
func (t *Txn) GetAll(ctx context.Context, store string) ([]objstore.RawRecord, error) {
	if err := t.check(store); err != nil {
		return nil, err
	}

	rows, err := t.tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT key, name, last_modified, size, media_type, kind, payload
		FROM %s
		ORDER BY key ASC
	`, tableName(store)))
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", store, err)
	}
	defer rows.Close()

	records := []objstore.RawRecord{}
	for rows.Next() {
		var (
			rec  objstore.RawRecord
			kind int
		)
		if err := rows.Scan(&rec.Key, &rec.Name, &rec.LastModified, &rec.Size, &rec.MediaType, &kind, &rec.Payload); err != nil {
			return nil, fmt.Errorf("scan %q: %w", store, err)
		}
		rec.Kind = objstore.PayloadKind(kind)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %q: %w", store, err)
	}

	return records, nil
}

// loadSchema reads the declared stores and indexes from the metadata tables.
func loadSchema(ctx context.Context, db *sql.DB) (objstore.Schema, error) {
	var schema objstore.Schema

	rows, err := db.QueryContext(ctx, `SELECT name, auto_increment FROM objstore_stores ORDER BY name ASC`)
	if err != nil {
		return schema, fmt.Errorf("query stores: %w", err)
	}
	for rows.Next() {
		var (
			spec objstore.StoreSpec
			auto int
		)
		if err := rows.Scan(&spec.Name, &auto); err != nil {
			rows.Close()
			return schema, fmt.Errorf("scan store: %w", err)
		}
		spec.AutoIncrement = auto != 0
		schema.Stores = append(schema.Stores, spec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return schema, fmt.Errorf("iterate stores: %w", err)
	}
	rows.Close()

	for i := range schema.Stores {
		indexes, err := loadIndexes(ctx, db, schema.Stores[i].Name)
		if err != nil {
			return schema, err
		}
		schema.Stores[i].Indexes = indexes
	}
	return schema, nil
}

func loadIndexes(ctx context.Context, db *sql.DB, store string) ([]objstore.IndexSpec, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name, fields, is_unique FROM objstore_indexes WHERE store = ? ORDER BY name ASC`, store)
	if err != nil {
		return nil, fmt.Errorf("query indexes of %q: %w", store, err)
	}
	defer rows.Close()

	var indexes []objstore.IndexSpec
	for rows.Next() {
		var (
			idx    objstore.IndexSpec
			fields string
			unique int
		)
		if err := rows.Scan(&idx.Name, &fields, &unique); err != nil {
			return nil, fmt.Errorf("scan index of %q: %w", store, err)
		}
		for _, f := range strings.Split(fields, ",") {
			idx.Fields = append(idx.Fields, objstore.Field(f))
		}
		idx.Unique = unique != 0
		indexes = append(indexes, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexes of %q: %w", store, err)
	}
	return indexes, nil
}
