package objstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
)

// Phase is a step in the lifecycle of one Run call.
//
//	Idle -> TransactionOpening -> Working -> Committing -> Committed
//	                                      -> Aborting   -> Aborted
//	                           -> TransactionOpenFailed
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseTransactionOpening
	PhaseWorking
	PhaseCommitting
	PhaseCommitted
	PhaseAborting
	PhaseAborted
	PhaseTransactionOpenFailed
)

var phaseNames = [...]string{
	PhaseIdle:                  "Idle",
	PhaseTransactionOpening:    "TransactionOpening",
	PhaseWorking:               "Working",
	PhaseCommitting:            "Committing",
	PhaseCommitted:             "Committed",
	PhaseAborting:              "Aborting",
	PhaseAborted:               "Aborted",
	PhaseTransactionOpenFailed: "TransactionOpenFailed",
}

func (p Phase) String() string {
	if int(p) >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Terminal reports whether no further transitions follow p.
func (p Phase) Terminal() bool {
	return p == PhaseCommitted || p == PhaseAborted || p == PhaseTransactionOpenFailed
}

// RunOption configures a Run call.
type RunOption func(*runConfig)

type runConfig struct {
	logger   *slog.Logger
	observer func(Phase)
}

// WithLogger sets the logger for a Run call.
func WithLogger(l *slog.Logger) RunOption {
	return func(c *runConfig) { c.logger = l }
}

// WithObserver registers fn to be called on every phase transition.
func WithObserver(fn func(Phase)) RunOption {
	return func(c *runConfig) { c.observer = fn }
}

// Work is a unit of work executed inside a transaction.
type Work[T any] func(ctx context.Context, set *StoreSet) (T, error)

// Run executes work in a transaction over stores.
//
// stores must be a non-empty subset of the database's declared stores;
// anything else fails with UnknownStore before a transaction is opened.
// If work returns an error, or a store operation fails with anything other
// than AlreadyExists, every write made during the call is discarded and Run
// returns an Aborted TransactionError. Once started, Run ignores
// cancellation of ctx and always reaches a terminal phase.
func Run[T any](ctx context.Context, db Database, stores []string, mode Mode, work Work[T], opts ...RunOption) (T, error) {
	var zero T

	cfg := runConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	phase := func(p Phase) {
		if cfg.observer != nil {
			cfg.observer(p)
		}
	}

	ctx = context.WithoutCancel(ctx)
	phase(PhaseIdle)

	names, err := checkStores(db.Schema(), stores)
	if err != nil {
		return zero, err
	}

	phase(PhaseTransactionOpening)
	txn, err := db.Begin(ctx, names, mode)
	if err != nil {
		phase(PhaseTransactionOpenFailed)
		cfg.logger.Error("could not open transaction", "stores", names, "mode", mode, "error", err)
		return zero, &TransactionError{Kind: OpenFailed, Err: err}
	}

	set := &StoreSet{txn: txn, mode: mode, granted: names}
	finished := false
	abort := func(cause error) (T, error) {
		phase(PhaseAborting)
		if rbErr := txn.Rollback(); rbErr != nil {
			cfg.logger.Error("rollback failed", "stores", names, "error", rbErr)
		}
		phase(PhaseAborted)
		finished = true
		cfg.logger.Debug("transaction aborted", "stores", names, "mode", mode, "error", cause)
		return zero, &TransactionError{Kind: Aborted, Err: cause}
	}
	defer func() {
		if !finished {
			phase(PhaseAborting)
			_ = txn.Rollback()
			phase(PhaseAborted)
		}
	}()

	phase(PhaseWorking)
	result, err := work(ctx, set)
	if err != nil {
		return abort(err)
	}
	if set.failure != nil {
		return abort(set.failure)
	}

	phase(PhaseCommitting)
	if err := txn.Commit(); err != nil {
		// A failed commit leaves nothing to roll back.
		phase(PhaseAborting)
		phase(PhaseAborted)
		finished = true
		cfg.logger.Error("commit failed", "stores", names, "error", err)
		return zero, &TransactionError{Kind: Aborted, Err: classify("", "commit", err)}
	}
	phase(PhaseCommitted)
	finished = true
	return result, nil
}

// checkStores validates and deduplicates the requested store names.
func checkStores(schema Schema, stores []string) ([]string, error) {
	if len(stores) == 0 {
		return nil, &TransactionError{Kind: UnknownStore, Err: fmt.Errorf("no stores requested")}
	}
	names := make([]string, 0, len(stores))
	for _, name := range stores {
		if _, ok := schema.Store(name); !ok {
			return nil, &TransactionError{Kind: UnknownStore, Store: name, Err: ErrNoSuchStore}
		}
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names, nil
}

// StoreSet is the collection of stores granted to one transaction.
type StoreSet struct {
	txn     Txn
	mode    Mode
	granted []string

	// failure is the first store error that poisons the transaction.
	failure *StoreError
}

// Mode returns the transaction mode.
func (s *StoreSet) Mode() Mode { return s.mode }

// Names returns the granted store names in request order.
func (s *StoreSet) Names() []string { return slices.Clone(s.granted) }

// Store returns a handle on a granted store. Asking for a store outside the
// transaction yields a NotFound StoreError.
func (s *StoreSet) Store(name string) (*StoreHandle, error) {
	if !slices.Contains(s.granted, name) {
		return nil, &StoreError{Kind: NotFound, Store: name, Op: "open", Err: ErrNoSuchStore}
	}
	return &StoreHandle{set: s, name: name}, nil
}

func (s *StoreSet) fail(se *StoreError) *StoreError {
	// AlreadyExists leaves no partial write behind, so work may recover from it.
	if se.Kind != AlreadyExists && s.failure == nil {
		s.failure = se
	}
	return se
}

// StoreHandle performs classified operations on one store.
type StoreHandle struct {
	set  *StoreSet
	name string
}

// Name returns the store name.
func (h *StoreHandle) Name() string { return h.name }

// GetAll returns every record in the store in insertion order.
func (h *StoreHandle) GetAll(ctx context.Context) ([]RawRecord, error) {
	recs, err := h.set.txn.GetAll(ctx, h.name)
	if err != nil {
		return nil, h.set.fail(classify(h.name, "get all", err))
	}
	return recs, nil
}

// Add inserts rec and returns its generated key.
func (h *StoreHandle) Add(ctx context.Context, rec RawRecord) (int64, error) {
	if h.set.mode != ReadWrite {
		return 0, h.set.fail(classify(h.name, "add", ErrReadOnly))
	}
	key, err := h.set.txn.Insert(ctx, h.name, rec)
	if err != nil {
		return 0, h.set.fail(classify(h.name, "add", err))
	}
	return key, nil
}
