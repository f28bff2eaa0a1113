package asset

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/assetdb/internal/objstore"
)

// Bundle is the result of one Read: references per binary store and decoded
// style text, each in store order. The holder owns the references and must
// call Release when it discards the bundle.
type Bundle struct {
	Buttons     []Reference `json:"buttons"`
	Backgrounds []Reference `json:"backgrounds"`
	Styles      []string    `json:"styles"`

	refs *References
}

// Release frees every reference in the bundle. It is safe to call twice.
func (b *Bundle) Release() {
	if b == nil || b.refs == nil {
		return
	}
	for _, ref := range b.Buttons {
		b.refs.Release(ref)
	}
	for _, ref := range b.Backgrounds {
		b.refs.Release(ref)
	}
	b.refs = nil
}

// Outcome is the non-error result of storing a record.
type Outcome int

const (
	// Stored means the record was inserted.
	Stored Outcome = iota + 1
	// AlreadyPresent means an identical record was already stored.
	AlreadyPresent
)

func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case AlreadyPresent:
		return "already present"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Pipeline reads and writes assets through objstore transactions.
// It holds no database state; the handle is passed on every call.
type Pipeline struct {
	refs   *References
	logger *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates a pipeline that issues references from refs.
func NewPipeline(refs *References, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{refs: refs, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// References returns the registry bundles are issued from.
func (p *Pipeline) References() *References { return p.refs }

// Read loads every asset in one read-only transaction.
//
// Records that are not blobs, cannot get a reference, or (for styles) do
// not decode as text are logged and left out. The read fails only when
// the transaction cannot be opened or a whole-store fetch fails; any
// references issued before the failure are released.
func (p *Pipeline) Read(ctx context.Context, db objstore.Database, opts ...objstore.RunOption) (*Bundle, error) {
	opts = append([]objstore.RunOption{objstore.WithLogger(p.logger)}, opts...)
	var partial *Bundle
	bundle, err := objstore.Run(ctx, db, AllStores, objstore.ReadOnly,
		func(ctx context.Context, set *objstore.StoreSet) (*Bundle, error) {
			partial = &Bundle{refs: p.refs, Buttons: []Reference{}, Backgrounds: []Reference{}, Styles: []string{}}

			buttons, err := p.readReferences(ctx, set, Buttons)
			if err != nil {
				return nil, err
			}
			partial.Buttons = buttons

			backgrounds, err := p.readReferences(ctx, set, Backgrounds)
			if err != nil {
				return nil, err
			}
			partial.Backgrounds = backgrounds

			styles, err := p.readStyles(ctx, set)
			if err != nil {
				return nil, err
			}
			partial.Styles = styles
			return partial, nil
		}, opts...)
	if err != nil {
		partial.Release()
		return nil, err
	}

	p.logger.Debug("assets read",
		"buttons", len(bundle.Buttons),
		"backgrounds", len(bundle.Backgrounds),
		"styles", len(bundle.Styles),
	)
	return bundle, nil
}

func (p *Pipeline) readReferences(ctx context.Context, set *objstore.StoreSet, name string) ([]Reference, error) {
	h, err := set.Store(name)
	if err != nil {
		p.logger.Error("can't get store", "store", name, "error", err)
		return nil, err
	}
	recs, err := h.GetAll(ctx)
	if err != nil {
		p.logger.Error("reading store failed", "store", name, "error", err)
		return nil, err
	}

	refs := make([]Reference, 0, len(recs))
	for _, rec := range recs {
		ref, err := toReference(p.refs, name, rec)
		if err != nil {
			p.logger.Error("skipping record", "store", name, "key", rec.Key, "error", err)
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (p *Pipeline) readStyles(ctx context.Context, set *objstore.StoreSet) ([]string, error) {
	h, err := set.Store(Styles)
	if err != nil {
		p.logger.Error("can't get store", "store", Styles, "error", err)
		return nil, err
	}
	recs, err := h.GetAll(ctx)
	if err != nil {
		p.logger.Error("reading store failed", "store", Styles, "error", err)
		return nil, err
	}

	styles := make([]string, 0, len(recs))
	for _, rec := range recs {
		text, err := toText(Styles, rec)
		if err != nil {
			p.logger.Error("skipping record", "store", Styles, "key", rec.Key, "error", err)
			continue
		}
		styles = append(styles, text)
	}
	return styles, nil
}

// Store inserts a style record.
func (p *Pipeline) Store(ctx context.Context, db objstore.Database, rec Record, opts ...objstore.RunOption) (Outcome, error) {
	return p.StoreIn(ctx, db, Styles, rec, opts...)
}

// StoreIn inserts rec into the named store in its own read-write transaction.
// A duplicate of an already stored record is AlreadyPresent, not an error.
func (p *Pipeline) StoreIn(ctx context.Context, db objstore.Database, store string, rec Record, opts ...objstore.RunOption) (Outcome, error) {
	opts = append([]objstore.RunOption{objstore.WithLogger(p.logger)}, opts...)
	outcome, err := objstore.Run(ctx, db, []string{store}, objstore.ReadWrite,
		func(ctx context.Context, set *objstore.StoreSet) (Outcome, error) {
			h, err := set.Store(store)
			if err != nil {
				p.logger.Error("can't get store to write", "store", store, "error", err)
				return 0, err
			}
			key, err := h.Add(ctx, rec.raw())
			if err != nil {
				if objstore.IsAlreadyExists(err) {
					p.logger.Info("asset already stored", "store", store, "name", rec.Name)
					return AlreadyPresent, nil
				}
				return 0, err
			}
			p.logger.Debug("asset stored", "store", store, "name", rec.Name, "key", key)
			return Stored, nil
		}, opts...)
	if err != nil {
		p.logger.Error("could not store asset", "store", store, "name", rec.Name, "error", err)
		return 0, err
	}
	return outcome, nil
}
