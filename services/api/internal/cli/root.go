package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"ghazal/services/api/internal/app"
)

// Runtime is an opened application plus the func that releases it.
type Runtime struct {
	App   *app.App
	Close func()
}

// Opener loads the api configuration at configPath and opens the app.
// Opening the store runs the schema migrations.
type Opener func(ctx context.Context, configPath string) (*Runtime, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Open       Opener
}

func (o *RootOptions) open(ctx context.Context) (*Runtime, error) {
	if o.Open == nil {
		return nil, errors.New("no opener configured")
	}
	rt, err := o.Open(ctx, o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if rt.Close == nil {
		rt.Close = func() {}
	}
	return rt, nil
}

// NewRootCommand creates the root command for ghazalctl.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{Open: open}

	cmd := &cobra.Command{
		Use:           "ghazalctl",
		Short:         "Ghazal Library admin tool",
		Long:          "Administrative tasks for the Ghazal Library api: schema migration, admin promotion, overdue sweeps and key generation.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "api config file (default $GHAZAL_API_CONFIG_PATH or config.yaml)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewPromoteCommand(opts))
	cmd.AddCommand(NewSweepOverdueCommand(opts))
	cmd.AddCommand(NewKeygenCommand())

	return cmd
}
