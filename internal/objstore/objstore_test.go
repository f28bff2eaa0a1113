package objstore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/assetdb/internal/boltstore"
	"github.com/roach88/assetdb/internal/objstore"
	"github.com/roach88/assetdb/internal/store"
)

// engines returns a fresh instance of every engine, rooted in its own temp dir.
func engines(t *testing.T) map[string]objstore.Engine {
	t.Helper()
	return map[string]objstore.Engine{
		"sqlite": store.NewEngine(t.TempDir()),
		"bolt":   boltstore.NewEngine(t.TempDir()),
	}
}

func storeWithIndex(name string) func(ctx context.Context, b *objstore.SchemaBuilder) error {
	return func(ctx context.Context, b *objstore.SchemaBuilder) error {
		ref, err := b.CreateStore(ctx, name, true)
		if err != nil {
			return err
		}
		return ref.CreateUniqueIndex(ctx, "file", objstore.IndexableFields...)
	}
}

var threeSteps = []objstore.MigrationStep{
	{MaxPriorVersion: 0, Description: "a", Apply: storeWithIndex("a")},
	{MaxPriorVersion: 1, Description: "b", Apply: storeWithIndex("b")},
	{MaxPriorVersion: 2, Description: "c", Apply: storeWithIndex("c")},
}

func openAt(t *testing.T, eng objstore.Engine, version int) objstore.Database {
	t.Helper()
	db, err := objstore.Open(context.Background(), eng, "db", version, objstore.Steps(threeSteps...))
	require.NoError(t, err)
	return db
}

func blob(name string, lastModified int64) objstore.RawRecord {
	payload := []byte("body of " + name)
	return objstore.RawRecord{
		Name:         name,
		LastModified: lastModified,
		Size:         int64(len(payload)),
		MediaType:    "text/css",
		Kind:         objstore.KindBlob,
		Payload:      payload,
	}
}

func TestOpen_MigrationIdempotence(t *testing.T) {
	for name := range engines(t) {
		t.Run(name, func(t *testing.T) {
			fresh := engines(t)[name]
			direct := openAt(t, fresh, 3)
			want := direct.Schema().Normalize()
			require.NoError(t, direct.Close())

			stepwise := engines(t)[name]
			for v := 1; v <= 3; v++ {
				db := openAt(t, stepwise, v)
				assert.Len(t, db.Schema().Stores, v)
				require.NoError(t, db.Close())
			}
			db := openAt(t, stepwise, 3)
			defer db.Close()

			assert.Equal(t, want, db.Schema().Normalize())
			assert.Equal(t, []string{"a", "b", "c"}, want.StoreNames())
		})
	}
}

func TestOpen_StepsRunOnceEach(t *testing.T) {
	eng := store.NewEngine(t.TempDir())
	applied := map[string]int{}
	counting := func(name string) objstore.MigrationStep {
		return objstore.MigrationStep{
			Description: name,
			Apply: func(ctx context.Context, b *objstore.SchemaBuilder) error {
				applied[name]++
				_, err := b.CreateStore(ctx, name, true)
				return err
			},
		}
	}
	steps := []objstore.MigrationStep{counting("c"), counting("a"), counting("b")}
	steps[0].MaxPriorVersion = 2
	steps[1].MaxPriorVersion = 0
	steps[2].MaxPriorVersion = 1

	var order []string
	migrate := objstore.Steps(steps...)
	wrapped := func(ctx context.Context, b *objstore.SchemaBuilder, old int) error {
		err := migrate(ctx, b, old)
		order = append(order, fmt.Sprint(applied))
		return err
	}

	db, err := objstore.Open(context.Background(), eng, "db", 3, wrapped)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = objstore.Open(context.Background(), eng, "db", 3, wrapped)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, applied)
	assert.Len(t, order, 1, "migrate must not run when already at target version")
}

func TestOpen_VersionGatedFromMiddle(t *testing.T) {
	eng := store.NewEngine(t.TempDir())
	db := openAt(t, eng, 1)
	require.NoError(t, db.Close())

	var seen []int
	_, err := objstore.Open(context.Background(), eng, "db", 3,
		func(ctx context.Context, b *objstore.SchemaBuilder, old int) error {
			seen = append(seen, old)
			return objstore.Steps(threeSteps...)(ctx, b, old)
		})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, seen)
}

func TestOpen_MigrationFailed(t *testing.T) {
	for name, eng := range engines(t) {
		t.Run(name, func(t *testing.T) {
			steps := append([]objstore.MigrationStep{}, threeSteps...)
			// Creating "a" again at step 1 collides with step 0.
			steps[1] = objstore.MigrationStep{MaxPriorVersion: 1, Apply: storeWithIndex("a")}

			_, err := objstore.Open(context.Background(), eng, "db", 3, objstore.Steps(steps...))
			require.Error(t, err)
			assert.True(t, objstore.IsMigrationFailed(err), "got %v", err)

			// Nothing from the failed attempt survives.
			db, err := objstore.Open(context.Background(), eng, "db", 1, objstore.Steps(threeSteps...))
			require.NoError(t, err)
			defer db.Close()
			assert.Equal(t, []string{"a"}, db.Schema().StoreNames())
		})
	}
}

func TestOpen_EngineUnavailable(t *testing.T) {
	_, err := objstore.Open(context.Background(), nil, "db", 1, nil)
	assert.True(t, objstore.IsEngineUnavailable(err))

	eng := &fakeEngine{openErr: fmt.Errorf("locked: %w", objstore.ErrUnavailable)}
	_, err = objstore.Open(context.Background(), eng, "db", 1, nil)
	assert.True(t, objstore.IsEngineUnavailable(err))

	var oe *objstore.OpenError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "db", oe.Name)
	assert.Equal(t, 1, oe.Version)
}

func TestOpen_DowngradeIsMigrationFailure(t *testing.T) {
	eng := store.NewEngine(t.TempDir())
	require.NoError(t, openAt(t, eng, 3).Close())

	_, err := objstore.Open(context.Background(), eng, "db", 2, objstore.Steps(threeSteps...))
	assert.True(t, objstore.IsMigrationFailed(err))
	assert.ErrorIs(t, err, objstore.ErrVersionTooNew)
}

func TestRun_UnknownStoreBeforeWork(t *testing.T) {
	db := openAt(t, store.NewEngine(t.TempDir()), 3)
	defer db.Close()

	ran := false
	work := func(ctx context.Context, set *objstore.StoreSet) (int, error) {
		ran = true
		return 0, nil
	}

	_, err := objstore.Run(context.Background(), db, []string{"a", "zzz"}, objstore.ReadOnly, work)
	assert.True(t, objstore.IsUnknownStore(err))
	_, err = objstore.Run(context.Background(), db, nil, objstore.ReadOnly, work)
	assert.True(t, objstore.IsUnknownStore(err))
	assert.False(t, ran)
}

func TestRun_CommitsResult(t *testing.T) {
	for name, eng := range engines(t) {
		t.Run(name, func(t *testing.T) {
			db := openAt(t, eng, 3)
			defer db.Close()
			ctx := context.Background()

			var phases []objstore.Phase
			key, err := objstore.Run(ctx, db, []string{"a"}, objstore.ReadWrite,
				func(ctx context.Context, set *objstore.StoreSet) (int64, error) {
					h, err := set.Store("a")
					if err != nil {
						return 0, err
					}
					return h.Add(ctx, blob("x.css", 100))
				},
				objstore.WithObserver(func(p objstore.Phase) { phases = append(phases, p) }),
			)
			require.NoError(t, err)
			assert.Positive(t, key)
			assert.Equal(t, []objstore.Phase{
				objstore.PhaseIdle,
				objstore.PhaseTransactionOpening,
				objstore.PhaseWorking,
				objstore.PhaseCommitting,
				objstore.PhaseCommitted,
			}, phases)

			assert.Len(t, readAll(t, db, "a"), 1)
		})
	}
}

func TestRun_AtomicityOnSecondInsertFailure(t *testing.T) {
	for name, eng := range engines(t) {
		t.Run(name, func(t *testing.T) {
			db := openAt(t, eng, 3)
			defer db.Close()
			ctx := context.Background()

			_, err := objstore.Run(ctx, db, []string{"a", "b"}, objstore.ReadWrite,
				func(ctx context.Context, set *objstore.StoreSet) (struct{}, error) {
					a, _ := set.Store("a")
					if _, err := a.Add(ctx, blob("one.css", 1)); err != nil {
						return struct{}{}, err
					}
					// Same record twice in one store: the second insert is rejected.
					if _, err := a.Add(ctx, blob("one.css", 1)); err != nil {
						return struct{}{}, err
					}
					return struct{}{}, nil
				})
			require.Error(t, err)
			assert.True(t, objstore.IsAborted(err))
			assert.True(t, objstore.IsAlreadyExists(err))

			assert.Empty(t, readAll(t, db, "a"))
		})
	}
}

func TestRun_WorkErrorDiscardsWrites(t *testing.T) {
	db := openAt(t, store.NewEngine(t.TempDir()), 3)
	defer db.Close()

	boom := errors.New("boom")
	var last objstore.Phase
	_, err := objstore.Run(context.Background(), db, []string{"a", "b"}, objstore.ReadWrite,
		func(ctx context.Context, set *objstore.StoreSet) (int, error) {
			a, _ := set.Store("a")
			b, _ := set.Store("b")
			if _, err := a.Add(ctx, blob("1", 1)); err != nil {
				return 0, err
			}
			if _, err := b.Add(ctx, blob("2", 2)); err != nil {
				return 0, err
			}
			return 0, boom
		},
		objstore.WithObserver(func(p objstore.Phase) { last = p }),
	)
	assert.ErrorIs(t, err, boom)
	assert.True(t, objstore.IsAborted(err))
	assert.Equal(t, objstore.PhaseAborted, last)

	assert.Empty(t, readAll(t, db, "a"))
	assert.Empty(t, readAll(t, db, "b"))
}

func TestRun_AlreadyExistsIsRecoverable(t *testing.T) {
	db := openAt(t, store.NewEngine(t.TempDir()), 3)
	defer db.Close()
	ctx := context.Background()

	add := func(rec objstore.RawRecord) (bool, error) {
		return objstore.Run(ctx, db, []string{"c"}, objstore.ReadWrite,
			func(ctx context.Context, set *objstore.StoreSet) (bool, error) {
				h, err := set.Store("c")
				if err != nil {
					return false, err
				}
				if _, err := h.Add(ctx, rec); err != nil {
					if objstore.IsAlreadyExists(err) {
						return false, nil
					}
					return false, err
				}
				return true, nil
			})
	}

	inserted, err := add(blob("x.css", 100))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = add(blob("x.css", 100))
	require.NoError(t, err)
	assert.False(t, inserted)

	assert.Len(t, readAll(t, db, "c"), 1)
}

func TestRun_IoFailurePoisonsTransaction(t *testing.T) {
	db := &fakeDB{schema: objstore.Schema{Stores: []objstore.StoreSpec{{Name: "a"}}},
		txn: &fakeTxn{insertErr: errors.New("disk full")}}

	// Work swallows the error, but the transaction still aborts.
	_, err := objstore.Run(context.Background(), db, []string{"a"}, objstore.ReadWrite,
		func(ctx context.Context, set *objstore.StoreSet) (int, error) {
			h, _ := set.Store("a")
			_, _ = h.Add(ctx, blob("x", 1))
			return 1, nil
		})
	require.Error(t, err)
	assert.True(t, objstore.IsAborted(err))

	var se *objstore.StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, objstore.Io, se.Kind)
	assert.True(t, db.txn.rolledBack)
	assert.False(t, db.txn.committed)
}

func TestRun_StoreOutsideTransactionIsNotFound(t *testing.T) {
	db := openAt(t, store.NewEngine(t.TempDir()), 3)
	defer db.Close()

	_, err := objstore.Run(context.Background(), db, []string{"a"}, objstore.ReadOnly,
		func(ctx context.Context, set *objstore.StoreSet) (int, error) {
			_, err := set.Store("b")
			return 0, err
		})
	assert.True(t, objstore.IsNotFound(err))
	assert.True(t, objstore.IsAborted(err))
}

func TestRun_ReadOnlyRejectsWrites(t *testing.T) {
	db := openAt(t, store.NewEngine(t.TempDir()), 3)
	defer db.Close()

	_, err := objstore.Run(context.Background(), db, []string{"a"}, objstore.ReadOnly,
		func(ctx context.Context, set *objstore.StoreSet) (int64, error) {
			h, _ := set.Store("a")
			return h.Add(ctx, blob("x", 1))
		})
	assert.ErrorIs(t, err, objstore.ErrReadOnly)
}

func TestRun_OpenFailed(t *testing.T) {
	db := &fakeDB{schema: objstore.Schema{Stores: []objstore.StoreSpec{{Name: "a"}}},
		beginErr: errors.New("busy")}

	var last objstore.Phase
	_, err := objstore.Run(context.Background(), db, []string{"a"}, objstore.ReadOnly,
		func(ctx context.Context, set *objstore.StoreSet) (int, error) { return 0, nil },
		objstore.WithObserver(func(p objstore.Phase) { last = p }))

	var te *objstore.TransactionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, objstore.OpenFailed, te.Kind)
	assert.Equal(t, objstore.PhaseTransactionOpenFailed, last)
	assert.True(t, last.Terminal())
}

func TestRun_IgnoresCallerCancellation(t *testing.T) {
	db := openAt(t, store.NewEngine(t.TempDir()), 3)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	_, err := objstore.Run(ctx, db, []string{"a"}, objstore.ReadWrite,
		func(ctx context.Context, set *objstore.StoreSet) (int64, error) {
			cancel()
			h, _ := set.Store("a")
			return h.Add(ctx, blob("x", 1))
		})
	require.NoError(t, err)
	assert.Len(t, readAll(t, db, "a"), 1)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "TransactionOpening", objstore.PhaseTransactionOpening.String())
	assert.Equal(t, "Phase(42)", objstore.Phase(42).String())
	assert.False(t, objstore.PhaseWorking.Terminal())
}

func readAll(t *testing.T, db objstore.Database, name string) []objstore.RawRecord {
	t.Helper()
	recs, err := objstore.Run(context.Background(), db, []string{name}, objstore.ReadOnly,
		func(ctx context.Context, set *objstore.StoreSet) ([]objstore.RawRecord, error) {
			h, err := set.Store(name)
			if err != nil {
				return nil, err
			}
			return h.GetAll(ctx)
		})
	require.NoError(t, err)
	return recs
}

func TestRun_CommitFailurePassesThroughAborting(t *testing.T) {
	db := &fakeDB{schema: objstore.Schema{Stores: []objstore.StoreSpec{{Name: "a"}}},
		txn: &fakeTxn{commitErr: errors.New("disk I/O error")}}

	var phases []objstore.Phase
	_, err := objstore.Run(context.Background(), db, []string{"a"}, objstore.ReadWrite,
		func(context.Context, *objstore.StoreSet) (int, error) { return 1, nil },
		objstore.WithObserver(func(p objstore.Phase) { phases = append(phases, p) }),
	)
	require.Error(t, err)
	assert.True(t, objstore.IsAborted(err))
	assert.Equal(t, []objstore.Phase{
		objstore.PhaseIdle,
		objstore.PhaseTransactionOpening,
		objstore.PhaseWorking,
		objstore.PhaseCommitting,
		objstore.PhaseAborting,
		objstore.PhaseAborted,
	}, phases)
}

func TestRun_PanickingWorkPassesThroughAborting(t *testing.T) {
	txn := &fakeTxn{}
	db := &fakeDB{schema: objstore.Schema{Stores: []objstore.StoreSpec{{Name: "a"}}}, txn: txn}

	var phases []objstore.Phase
	assert.PanicsWithValue(t, "boom", func() {
		_, _ = objstore.Run(context.Background(), db, []string{"a"}, objstore.ReadWrite,
			func(context.Context, *objstore.StoreSet) (int, error) { panic("boom") },
			objstore.WithObserver(func(p objstore.Phase) { phases = append(phases, p) }),
		)
	})
	assert.True(t, txn.rolledBack)
	assert.Equal(t, []objstore.Phase{
		objstore.PhaseIdle,
		objstore.PhaseTransactionOpening,
		objstore.PhaseWorking,
		objstore.PhaseAborting,
		objstore.PhaseAborted,
	}, phases)
}

// fakeEngine fails every open.
type fakeEngine struct{ openErr error }

func (e *fakeEngine) OpenDatabase(context.Context, string, int, objstore.UpgradeFunc) (objstore.Database, error) {
	return nil, e.openErr
}

// fakeDB hands out a scripted transaction.
type fakeDB struct {
	schema   objstore.Schema
	beginErr error
	txn      *fakeTxn
}

func (d *fakeDB) Name() string            { return "fake" }
func (d *fakeDB) Version() int            { return 1 }
func (d *fakeDB) Schema() objstore.Schema { return d.schema }
func (d *fakeDB) Close() error            { return nil }
func (d *fakeDB) Begin(context.Context, []string, objstore.Mode) (objstore.Txn, error) {
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	return d.txn, nil
}

type fakeTxn struct {
	insertErr  error
	commitErr  error
	committed  bool
	rolledBack bool
}

func (t *fakeTxn) GetAll(context.Context, string) ([]objstore.RawRecord, error) { return nil, nil }
func (t *fakeTxn) Insert(context.Context, string, objstore.RawRecord) (int64, error) {
	return 0, t.insertErr
}
func (t *fakeTxn) Commit() error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}
func (t *fakeTxn) Rollback() error { t.rolledBack = true; return nil }
