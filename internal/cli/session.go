package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/assetdb/internal/app"
	"github.com/roach88/assetdb/internal/asset"
	"github.com/roach88/assetdb/internal/boltstore"
	"github.com/roach88/assetdb/internal/config"
	"github.com/roach88/assetdb/internal/objstore"
	"github.com/roach88/assetdb/internal/store"
)

// session is the resolved runtime for one command: merged config, logger,
// engine and reference registry.
type session struct {
	cfg    config.Config
	logger *slog.Logger
	engine objstore.Engine
	refs   *asset.References
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// loadConfig merges file, environment and flags, in that order.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{Path: o.ConfigPath, Environ: o.Environ})
	if err != nil {
		return config.Config{}, err
	}
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	if o.Engine != "" {
		cfg.Engine = o.Engine
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (o *RootOptions) newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	level := cfg.Level()
	if o.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	eng, err := newEngine(cfg, logger)
	if err != nil {
		return nil, err
	}

	refOpts := []asset.ReferencesOption{asset.WithLimit(cfg.MaxReferences)}
	if o.IDGenerator != nil {
		refOpts = append(refOpts, asset.WithIDGenerator(o.IDGenerator))
	}

	return &session{
		cfg:    cfg,
		logger: logger,
		engine: eng,
		refs:   asset.NewReferences(refOpts...),
	}, nil
}

func newEngine(cfg config.Config, logger *slog.Logger) (objstore.Engine, error) {
	switch cfg.Engine {
	case config.EngineSQLite:
		eng := store.NewEngine(cfg.DataDir)
		eng.Logger = logger
		return eng, nil
	case config.EngineBolt:
		eng := boltstore.NewEngine(cfg.DataDir)
		eng.Logger = logger
		return eng, nil
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
}

// drive opens the database through a controller and feeds every result to
// handle until handle reports it is done. The controller is closed on return.
func (s *session) drive(ctx context.Context, readOnOpen bool, handle func(c *app.Controller, msg app.Message) bool) error {
	var c *app.Controller
	opts := []app.Option{
		app.WithLogger(s.logger),
		app.WithDatabaseName(s.cfg.Database),
		app.WithHandler(func(_ context.Context, msg app.Message) {
			if handle(c, msg) {
				c.Stop()
			}
		}),
	}
	if readOnOpen {
		opts = append(opts, app.WithReadOnOpen())
	}
	c = app.New(s.engine, asset.NewPipeline(s.refs, asset.WithLogger(s.logger)), opts...)
	c.Send(app.OpenRequest{})
	return c.Run(ctx)
}
