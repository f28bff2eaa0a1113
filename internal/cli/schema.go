package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/assetdb/internal/app"
	"github.com/roach88/assetdb/internal/objstore"
)

// SchemaResult is the output of the schema command.
type SchemaResult struct {
	Database string               `json:"database"`
	Engine   string               `json:"engine"`
	Version  int                  `json:"version"`
	Stores   []objstore.StoreSpec `json:"stores"`
}

func (r SchemaResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) version %d\n", r.Database, r.Engine, r.Version)
	for _, st := range r.Stores {
		keying := "keyed"
		if st.AutoIncrement {
			keying = "auto-increment"
		}
		fmt.Fprintf(&b, "  %s  %s\n", st.Name, keying)
		for _, idx := range st.Indexes {
			fields := make([]string, len(idx.Fields))
			for i, f := range idx.Fields {
				fields[i] = string(f)
			}
			kind := "index"
			if idx.Unique {
				kind = "unique"
			}
			fmt.Fprintf(&b, "    %s  %s  %s\n", idx.Name, kind, strings.Join(fields, ", "))
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Show the declared stores and indexes",
		Long: `Open (and if needed upgrade) the database, then print its version and
the stores and unique indexes it declares.

Examples:
  assetdb schema
  assetdb schema --engine bolt --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(rootOpts, cmd)
		},
	}
	return cmd
}

func runSchema(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	sess, err := opts.newSession(cmd)
	if err != nil {
		return fail(formatter, ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}

	var (
		result SchemaResult
		failed error
	)
	runErr := sess.drive(cmd.Context(), false, func(_ *app.Controller, msg app.Message) bool {
		switch m := msg.(type) {
		case app.DatabaseReady:
			schema := m.Schema.Normalize()
			result = SchemaResult{
				Database: m.Name,
				Engine:   sess.cfg.Engine,
				Version:  m.Version,
				Stores:   schema.Stores,
			}
		case app.OpenFailed:
			failed = fail(formatter, ExitCommandError, ErrCodeOpenFailed, "failed to open database", m.Err)
		}
		return true
	})
	if failed != nil {
		return failed
	}
	if runErr != nil {
		return fail(formatter, ExitCommandError, ErrCodeGeneric, "interrupted", runErr)
	}
	return formatter.Success(result)
}
