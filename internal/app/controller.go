package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/assetdb/internal/asset"
	"github.com/roach88/assetdb/internal/objstore"
)

var (
	// ErrNotOpen means a request needed the database before it was opened.
	ErrNotOpen = errors.New("database not open")

	// ErrAlreadyOpen means an OpenRequest arrived while a database was open
	// or being opened.
	ErrAlreadyOpen = errors.New("database already open")
)

// Handler observes every result message the controller processes.
// It runs on the controller's Run goroutine and may call Send or Stop.
type Handler func(ctx context.Context, msg Message)

// Controller owns the database handle and turns requests into pipeline calls.
//
// Each request runs on its own goroutine; its result comes back through the
// queue and is handled on the Run goroutine, which is the only place the
// handle and the current bundle are touched.
type Controller struct {
	engine   objstore.Engine
	name     string
	pipeline *asset.Pipeline
	logger   *slog.Logger
	handler  Handler

	readOnOpen bool

	queue *queue
	wg    sync.WaitGroup

	mu       sync.Mutex
	stopping bool
	stopCh   chan struct{}

	// Owned by the Run goroutine.
	db       objstore.Database
	opening  bool
	current  *asset.Bundle
	inflight int
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithHandler registers h to observe results.
func WithHandler(h Handler) Option {
	return func(c *Controller) { c.handler = h }
}

// WithDatabaseName overrides asset.DatabaseName.
func WithDatabaseName(name string) Option {
	return func(c *Controller) { c.name = name }
}

// WithReadOnOpen issues a ReadRequest as soon as the database is ready.
func WithReadOnOpen() Option {
	return func(c *Controller) { c.readOnOpen = true }
}

// New creates a controller. Nothing happens until Run is called and an
// OpenRequest is sent.
func New(eng objstore.Engine, pipeline *asset.Pipeline, opts ...Option) *Controller {
	c := &Controller{
		engine:   eng,
		name:     asset.DatabaseName,
		pipeline: pipeline,
		logger:   slog.Default(),
		queue:    newQueue(),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send queues a request. It returns false once Stop has been called.
// Thread-safe: may be called from any goroutine.
func (c *Controller) Send(req Request) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return false
	}
	return c.queue.Enqueue(req)
}

// Stop refuses further requests. Run returns once the requests already
// queued have run and their results have been handed to the handler.
// Thread-safe: may be called from any goroutine, including the handler.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return
	}
	c.stopping = true
	close(c.stopCh)
}

func (c *Controller) isStopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}

// Run processes messages until ctx is cancelled or Stop is called. Before
// returning it waits for in-flight pipeline calls, releases any bundle it
// still owns and closes the database. Results still pending when ctx is
// cancelled are discarded.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Debug("controller starting", "database", c.name)
	defer c.shutdown()

	stop := c.stopCh
	for {
		msg, ok := c.queue.TryDequeue()
		if ok {
			if _, isRequest := msg.(Request); !isRequest {
				c.inflight--
			}
			c.process(ctx, msg)
			continue
		}
		if c.inflight == 0 && c.isStopping() {
			c.logger.Debug("controller stopping: stop requested")
			return nil
		}

		select {
		case <-ctx.Done():
			c.logger.Debug("controller stopping: context cancelled")
			c.Stop()
			return ctx.Err()

		case <-c.queue.Wait():

		case <-stop:
			// Results still in flight wake the loop through the queue.
			stop = nil
		}
	}
}

// process runs on the Run goroutine.
func (c *Controller) process(ctx context.Context, msg Message) {
	switch m := msg.(type) {
	case OpenRequest:
		c.open(ctx)
		return
	case ReadRequest:
		c.read(ctx)
		return
	case StoreRequest:
		c.store(ctx, m)
		return

	case DatabaseReady:
		c.opening = false
		c.db = m.db
		c.logger.Info("database ready", "name", m.Name, "version", m.Version)
		if c.readOnOpen && !c.isStopping() {
			c.read(ctx)
		}
	case OpenFailed:
		c.opening = false
		c.logger.Error("could not open database", "name", c.name, "error", m.Err)
	case AssetsReady:
		if c.current != nil {
			c.current.Release()
		}
		c.current = m.Bundle
	case ReadFailed:
		c.logger.Error("could not read assets", "error", m.Err)
	case Stored:
		c.logger.Info("asset stored", "store", m.Store, "name", m.Name)
	case AlreadyPresent:
		c.logger.Info("asset already present", "store", m.Store, "name", m.Name)
	case StoreFailed:
		c.logger.Error("could not store asset", "store", m.Store, "name", m.Name, "error", m.Err)
	default:
		c.logger.Error("unknown message", "type", fmt.Sprintf("%T", msg))
		return
	}

	if c.handler != nil {
		c.handler(ctx, msg)
	}
}

func (c *Controller) open(ctx context.Context) {
	if c.db != nil || c.opening {
		c.process(ctx, OpenFailed{Err: ErrAlreadyOpen})
		return
	}
	c.opening = true
	c.spawn(func() Message {
		db, err := asset.OpenDatabase(ctx, c.engine, c.name, c.logger)
		if err != nil {
			return OpenFailed{Err: err}
		}
		return DatabaseReady{Name: db.Name(), Version: db.Version(), Schema: db.Schema(), db: db}
	})
}

func (c *Controller) read(ctx context.Context) {
	db := c.db
	if db == nil {
		c.process(ctx, ReadFailed{Err: ErrNotOpen})
		return
	}
	c.spawn(func() Message {
		bundle, err := c.pipeline.Read(ctx, db)
		if err != nil {
			return ReadFailed{Err: err}
		}
		return AssetsReady{Bundle: bundle}
	})
}

func (c *Controller) store(ctx context.Context, req StoreRequest) {
	storeName := req.Store
	if storeName == "" {
		storeName = asset.Styles
	}
	db := c.db
	if db == nil {
		c.process(ctx, StoreFailed{Store: storeName, Name: req.Record.Name, Err: ErrNotOpen})
		return
	}
	c.spawn(func() Message {
		outcome, err := c.pipeline.StoreIn(ctx, db, storeName, req.Record)
		switch {
		case err != nil:
			return StoreFailed{Store: storeName, Name: req.Record.Name, Err: err}
		case outcome == asset.AlreadyPresent:
			return AlreadyPresent{Store: storeName, Name: req.Record.Name}
		default:
			return Stored{Store: storeName, Name: req.Record.Name}
		}
	})
}

// spawn runs call on its own goroutine and queues the result. A result that
// arrives after Run returned is discarded.
func (c *Controller) spawn(call func() Message) {
	c.inflight++
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		msg := call()
		if !c.queue.Enqueue(msg) {
			discard(msg)
		}
	}()
}

func (c *Controller) shutdown() {
	c.queue.Close()
	c.wg.Wait()
	for {
		msg, ok := c.queue.TryDequeue()
		if !ok {
			break
		}
		discard(msg)
	}
	if c.current != nil {
		c.current.Release()
		c.current = nil
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("closing database failed", "error", err)
		}
		c.db = nil
	}
	c.logger.Debug("controller stopped")
}

// discard frees whatever an unhandled result owns.
func discard(msg Message) {
	switch m := msg.(type) {
	case AssetsReady:
		m.Bundle.Release()
	case DatabaseReady:
		_ = m.db.Close()
	}
}
