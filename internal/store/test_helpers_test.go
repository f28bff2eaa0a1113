package store

import (
	"context"
	"testing"

	"github.com/roach88/assetdb/internal/objstore"
)

// createTestEngine creates an engine rooted in a fresh temp directory.
func createTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(t.TempDir())
}

// createTestDatabase opens a database with one auto-keyed store "files"
// carrying a unique index over all four metadata fields.
func createTestDatabase(t *testing.T, e *Engine) *Database {
	t.Helper()
	db, err := e.OpenDatabase(context.Background(), "test", 1, func(ctx context.Context, up objstore.Upgrader) error {
		if err := up.CreateStore(ctx, "files", true); err != nil {
			return err
		}
		return up.CreateIndex(ctx, "files", objstore.IndexSpec{
			Name:   "file",
			Fields: objstore.IndexableFields,
			Unique: true,
		})
	})
	if err != nil {
		t.Fatalf("OpenDatabase() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db.(*Database)
}

// createTestRecord creates a blob record with the given name.
func createTestRecord(name string, lastModified int64) objstore.RawRecord {
	payload := []byte("payload of " + name)
	return objstore.RawRecord{
		Name:         name,
		LastModified: lastModified,
		Size:         int64(len(payload)),
		MediaType:    "text/plain",
		Kind:         objstore.KindBlob,
		Payload:      payload,
	}
}

// verifyPragma checks that a pragma is set to the expected value.
func (d *Database) verifyPragma(name, expected string) error {
	var value string
	if err := d.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return err
	}
	if value != expected {
		return &pragmaMismatch{name: name, got: value, want: expected}
	}
	return nil
}

type pragmaMismatch struct{ name, got, want string }

func (e *pragmaMismatch) Error() string {
	return e.name + " = " + e.got + ", expected " + e.want
}
