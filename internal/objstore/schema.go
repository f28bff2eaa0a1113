package objstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// MigrateFunc brings a schema from oldVersion up to the target version.
// It must only create stores and indexes that are not yet present.
type MigrateFunc func(ctx context.Context, b *SchemaBuilder, oldVersion int) error

// MigrationStep is one version-gated schema change.
//
// A step applies whenever the prior version is <= MaxPriorVersion, so a
// jump from 0 straight to the target crosses, and runs, every step.
type MigrationStep struct {
	MaxPriorVersion int
	Description     string
	Apply           func(ctx context.Context, b *SchemaBuilder) error
}

// Steps builds a MigrateFunc that runs the applicable steps once each in
// ascending MaxPriorVersion order.
func Steps(steps ...MigrationStep) MigrateFunc {
	ordered := slices.Clone(steps)
	slices.SortStableFunc(ordered, func(a, b MigrationStep) int { return a.MaxPriorVersion - b.MaxPriorVersion })

	return func(ctx context.Context, b *SchemaBuilder, oldVersion int) error {
		for _, step := range ordered {
			if oldVersion > step.MaxPriorVersion || step.MaxPriorVersion >= b.NewVersion() {
				continue
			}
			b.logger.Debug("applying migration step",
				"database", b.database,
				"max_prior_version", step.MaxPriorVersion,
				"description", step.Description,
			)
			if err := step.Apply(ctx, b); err != nil {
				return fmt.Errorf("migration step %d (%s): %w", step.MaxPriorVersion, step.Description, err)
			}
		}
		return nil
	}
}

// SchemaBuilder is handed to migrations. It is valid only during the upgrade.
type SchemaBuilder struct {
	up       Upgrader
	database string
	logger   *slog.Logger
}

// OldVersion is the version the database had before this upgrade.
func (b *SchemaBuilder) OldVersion() int { return b.up.OldVersion() }

// NewVersion is the version the upgrade is moving to.
func (b *SchemaBuilder) NewVersion() int { return b.up.NewVersion() }

// CreateStore declares a new store. Creating a store that already exists fails.
func (b *SchemaBuilder) CreateStore(ctx context.Context, name string, autoIncrement bool) (StoreRef, error) {
	if err := ValidateStoreName(name); err != nil {
		return StoreRef{}, err
	}
	if err := b.up.CreateStore(ctx, name, autoIncrement); err != nil {
		return StoreRef{}, fmt.Errorf("create store %q: %w", name, err)
	}
	return StoreRef{b: b, name: name}, nil
}

// StoreRef points at a store created during the current upgrade.
type StoreRef struct {
	b    *SchemaBuilder
	name string
}

// Name returns the store name.
func (r StoreRef) Name() string { return r.name }

// CreateUniqueIndex adds a unique index over fields. It fails if existing
// records already violate it or an index with that name exists.
func (r StoreRef) CreateUniqueIndex(ctx context.Context, name string, fields ...Field) error {
	index := IndexSpec{Name: name, Fields: slices.Clone(fields), Unique: true}
	if err := ValidateIndex(index); err != nil {
		return err
	}
	if err := r.b.up.CreateIndex(ctx, r.name, index); err != nil {
		return fmt.Errorf("create unique index %q on %q: %w", name, r.name, err)
	}
	return nil
}

// OpenOption configures Open.
type OpenOption func(*openConfig)

type openConfig struct {
	logger *slog.Logger
}

// WithOpenLogger sets the logger used while opening and migrating.
func WithOpenLogger(l *slog.Logger) OpenOption {
	return func(c *openConfig) { c.logger = l }
}

// Open opens the named database at targetVersion.
//
// migrate runs at most once, and only when the stored version is below
// targetVersion. Engines wrap ErrUnavailable when they cannot be reached at
// all; that is EngineUnavailable. Every other failure, including one inside
// migrate, leaves the database unopened and is MigrationFailed.
func Open(ctx context.Context, eng Engine, name string, targetVersion int, migrate MigrateFunc, opts ...OpenOption) (Database, error) {
	cfg := openConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	if targetVersion < 1 {
		return nil, &OpenError{Kind: MigrationFailed, Name: name, Version: targetVersion,
			Err: fmt.Errorf("target version must be >= 1")}
	}
	if eng == nil {
		return nil, &OpenError{Kind: EngineUnavailable, Name: name, Version: targetVersion,
			Err: ErrUnavailable}
	}

	var migrateErr error
	calls := 0
	upgrade := func(ctx context.Context, up Upgrader) error {
		calls++
		if calls > 1 {
			migrateErr = fmt.Errorf("upgrade invoked %d times", calls)
			return migrateErr
		}
		cfg.logger.Info("upgrading database",
			"database", name,
			"old_version", up.OldVersion(),
			"new_version", up.NewVersion(),
		)
		b := &SchemaBuilder{up: up, database: name, logger: cfg.logger}
		if migrate == nil {
			return nil
		}
		if err := migrate(ctx, b, up.OldVersion()); err != nil {
			migrateErr = err
			return err
		}
		return nil
	}

	db, err := eng.OpenDatabase(ctx, name, targetVersion, upgrade)
	if err != nil {
		kind := MigrationFailed
		if migrateErr == nil && errors.Is(err, ErrUnavailable) {
			kind = EngineUnavailable
		}
		cfg.logger.Error("could not open database", "database", name, "version", targetVersion, "error", err)
		return nil, &OpenError{Kind: kind, Name: name, Version: targetVersion, Err: err}
	}
	if migrateErr != nil {
		_ = db.Close()
		return nil, &OpenError{Kind: MigrationFailed, Name: name, Version: targetVersion, Err: migrateErr}
	}

	cfg.logger.Debug("database open", "database", name, "version", db.Version())
	return db, nil
}
