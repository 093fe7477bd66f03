package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pipebridge/internal/config"
)

// ConfigInitOptions holds flags for the config init command.
type ConfigInitOptions struct {
	*RootOptions
	Path  string
	Force bool
}

// ConfigView is the JSON shape of a loaded configuration.
type ConfigView struct {
	PollInterval string `json:"poll_interval"`
	ReadChunk    int    `json:"read_chunk"`
	GCInterval   string `json:"gc_interval"`
	StorePath    string `json:"store_path,omitempty"`
	LogLevel     string `json:"log_level"`
}

func newConfigView(c config.Config) ConfigView {
	return ConfigView{
		PollInterval: c.Host.PollInterval.String(),
		ReadChunk:    c.Host.ReadChunk,
		GCInterval:   c.Host.GCInterval.String(),
		StorePath:    c.Store.Path,
		LogLevel:     c.Log.Level,
	}
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the pipebridge config file",
	}
	cmd.AddCommand(newConfigInitCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	return cmd
}

func newConfigInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfigInitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		Long: `Write the built-in defaults as TOML.

The file goes to --path, or to $PIPEBRIDGE_CONFIG, or to
~/.config/pipebridge/config.toml. An existing file is kept unless --force.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Path, "path", "", "where to write the config file")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing file")

	return cmd
}

func runConfigInit(opts *ConfigInitOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	path := opts.Path
	if path == "" {
		path = config.DefaultPath()
	}

	if err := config.WriteFile(path, config.Default(), opts.Force); err != nil {
		if errors.Is(err, config.ErrExists) {
			return NewExitError(ExitCommandError,
				fmt.Sprintf("config file already exists: %s (use --force to overwrite)", path))
		}
		return WrapExitError(ExitFailure, "failed to write config", err)
	}

	if out.IsJSON() {
		return out.Success(map[string]string{"path": path})
	}
	out.Printf("Wrote %s\n", path)
	return nil
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Print the effective configuration",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			if out.IsJSON() {
				return out.Success(newConfigView(rootOpts.Config))
			}
			if err := config.Encode(out.Writer, rootOpts.Config); err != nil {
				return WrapExitError(ExitFailure, "failed to print config", err)
			}
			return nil
		},
	}
}
