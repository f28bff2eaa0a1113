package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/assetdb/internal/config"
)

// ConfigInitResult is the output of config init.
type ConfigInitResult struct {
	Path   string        `json:"path"`
	Config config.Config `json:"config"`
}

func (r ConfigInitResult) String() string {
	return fmt.Sprintf("wrote %s", r.Path)
}

// ConfigShowResult is the output of config show.
type ConfigShowResult struct {
	config.Config
}

func (r ConfigShowResult) String() string {
	data, err := r.Config.Marshal()
	if err != nil {
		return err.Error()
	}
	return strings.TrimSuffix(string(data), "\n")
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the assetdb config file",
	}
	cmd.AddCommand(newConfigInitCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	return cmd
}

func newConfigInitCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		Long: `Write the default settings to the config file (--config, or the default
location). An existing file is left alone unless --force is given.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)

			path := rootOpts.ConfigPath
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return fail(formatter, ExitCommandError, ErrCodeConfig, "failed to locate config", err)
				}
				path = p
			}

			cfg, err := config.WriteDefault(path, force)
			if err != nil {
				return fail(formatter, ExitCommandError, ErrCodeWriteFailed, "failed to write config", err)
			}
			return formatter.Success(ConfigInitResult{Path: path, Config: cfg})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Print the effective config",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return fail(formatter, ExitCommandError, ErrCodeConfig, "failed to load config", err)
			}
			return formatter.Success(ConfigShowResult{Config: cfg})
		},
	}
}
