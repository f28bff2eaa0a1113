package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/assetdb/internal/objstore"
)

//go:embed schema.sql
var metaSQL string

// MemoryDir makes the engine open in-memory databases instead of files.
const MemoryDir = ":memory:"

// Engine opens SQLite-backed object-store databases.
// Each database lives in <Dir>/<name>.db.
type Engine struct {
	Dir    string
	Logger *slog.Logger
}

// NewEngine creates an engine rooted at dir.
func NewEngine(dir string) *Engine {
	return &Engine{Dir: dir, Logger: slog.Default()}
}

var _ objstore.Engine = (*Engine)(nil)

// Path returns the file backing the named database.
func (e *Engine) Path(name string) string {
	if e.Dir == MemoryDir {
		return MemoryDir
	}
	return filepath.Join(e.Dir, name+".db")
}

// OpenDatabase opens or creates the named database and upgrades it to version.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - a single pooled connection, so transactions serialize
func (e *Engine) OpenDatabase(ctx context.Context, name string, version int, upgrade objstore.UpgradeFunc) (objstore.Database, error) {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid database name %q: %w", name, objstore.ErrUnavailable)
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	path := e.Path(name)
	if path != MemoryDir {
		if err := os.MkdirAll(e.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w: %w", objstore.ErrUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w: %w", objstore.ErrUnavailable, err)
	}

	// Verify connection works
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w: %w", objstore.ErrUnavailable, err)
	}

	// SQLite only supports one writer at a time; one connection also makes
	// every transaction serialize against every other.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db, path); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w: %w", objstore.ErrUnavailable, err)
	}

	if _, err := db.ExecContext(ctx, metaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create metadata tables: %w", err)
	}

	if err := runUpgrade(ctx, db, version, upgrade); err != nil {
		db.Close()
		return nil, err
	}

	schema, err := loadSchema(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	schema.Version = version

	logger.Debug("sqlite database ready", "path", path, "version", version, "stores", len(schema.Stores))
	return &Database{name: name, version: version, schema: schema, db: db}, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB, path string) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	if path != MemoryDir {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// runUpgrade applies the upgrade callback when user_version is below target.
// The callback and the version bump share one transaction.
func runUpgrade(ctx context.Context, db *sql.DB, target int, upgrade objstore.UpgradeFunc) error {
	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if current > target {
		return fmt.Errorf("database at version %d, requested %d: %w", current, target, objstore.ErrVersionTooNew)
	}
	if current == target {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upgrade: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if upgrade != nil {
		up := &upgrader{tx: tx, old: current, new: target}
		if err := upgrade(ctx, up); err != nil {
			return fmt.Errorf("upgrade from %d to %d: %w", current, target, err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", target)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upgrade: %w", err)
	}
	return nil
}

// Database is an open SQLite object-store database.
type Database struct {
	name    string
	version int
	schema  objstore.Schema
	db      *sql.DB
}

var _ objstore.Database = (*Database)(nil)

// Name returns the database name.
func (d *Database) Name() string { return d.name }

// Version returns the schema version the database was opened at.
func (d *Database) Version() int { return d.version }

// Schema returns the declared stores. It is fixed for the life of the handle.
func (d *Database) Schema() objstore.Schema {
	out := d.schema
	out.Stores = append([]objstore.StoreSpec(nil), d.schema.Stores...)
	return out
}

// Close closes the database connection.
func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Begin starts a transaction over stores.
func (d *Database) Begin(ctx context.Context, stores []string, mode objstore.Mode) (objstore.Txn, error) {
	for _, name := range stores {
		if _, ok := d.schema.Store(name); !ok {
			return nil, fmt.Errorf("begin: store %q: %w", name, objstore.ErrNoSuchStore)
		}
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Txn{tx: tx, mode: mode, stores: stores, schema: d.schema}, nil
}
