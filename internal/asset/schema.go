package asset

import (
	"context"
	"log/slog"

	"github.com/roach88/assetdb/internal/objstore"
)

// Declared schema. The names are persisted and must not change.
const (
	DatabaseName  = "mb"
	SchemaVersion = 3

	Buttons     = "buttons"
	Backgrounds = "backgrounds"
	Styles      = "styles"

	// FileIndex is the unique index every store carries.
	FileIndex = "file"
)

// FileIndexFields identify a file: two records with the same name,
// modification time, size and media type are the same asset.
var FileIndexFields = []objstore.Field{
	objstore.FieldName,
	objstore.FieldLastModified,
	objstore.FieldSize,
	objstore.FieldMediaType,
}

// AllStores is every declared store.
var AllStores = []string{Buttons, Backgrounds, Styles}

// Migrations is the version history of the asset database.
var Migrations = []objstore.MigrationStep{
	{MaxPriorVersion: 0, Description: "create buttons", Apply: createStoreWithIndex(Buttons)},
	{MaxPriorVersion: 1, Description: "create backgrounds", Apply: createStoreWithIndex(Backgrounds)},
	{MaxPriorVersion: 2, Description: "create styles", Apply: createStoreWithIndex(Styles)},
}

func createStoreWithIndex(name string) func(ctx context.Context, b *objstore.SchemaBuilder) error {
	return func(ctx context.Context, b *objstore.SchemaBuilder) error {
		ref, err := b.CreateStore(ctx, name, true)
		if err != nil {
			return err
		}
		return ref.CreateUniqueIndex(ctx, FileIndex, FileIndexFields...)
	}
}

// OpenDatabase opens (and if needed upgrades) the asset database. An empty
// name selects DatabaseName.
func OpenDatabase(ctx context.Context, eng objstore.Engine, name string, logger *slog.Logger) (objstore.Database, error) {
	if name == "" {
		name = DatabaseName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return objstore.Open(ctx, eng, name, SchemaVersion, objstore.Steps(Migrations...), objstore.WithOpenLogger(logger))
}
