// Package cmd implements the keepsync commands.
package cmd

import (
	"cmp"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/atinyakov/keepsync/internal/app"
	"github.com/atinyakov/keepsync/internal/config"
	"github.com/atinyakov/keepsync/internal/logger"
)

// cli carries the state shared by every command.
type cli struct {
	configFile string
	opts       *config.Options
	log        *logger.Logger
}

// Execute runs the root command and exits non-zero on failure.
func Execute(version, buildDate string) {
	root := newRootCmd(version, buildDate)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(version, buildDate string) *cobra.Command {
	c := &cli{log: logger.New()}
	root := &cobra.Command{
		Use:           "keepsync",
		Short:         "End-to-end encrypted container and item sync client",
		Version:       fmt.Sprintf("%s (built %s)", cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A")),
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = c.log.Log.Sync()
		},
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "config file (default: ~/.config/keepsync/config.yaml)")
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newAccountCmd(c),
		newWatchCmd(c),
		newContainerCmd(c),
		newPeerCmd(c),
		newItemCmd(c),
	)
	return root
}

func (c *cli) init(cmd *cobra.Command) error {
	opts, err := config.Load(viper.New(), cmd.Flags(), c.configFile)
	if err != nil {
		return err
	}
	c.opts = opts
	return c.log.Init(opts.LogLevel)
}

// withApp opens the configured backend for the duration of fn.
func (c *cli) withApp(ctx context.Context, fn func(context.Context, *app.App) error) (err error) {
	a, err := app.New(c.opts, c.log.Log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			c.log.Log.Warn("close", zap.Error(cerr))
		}
	}()
	return fn(ctx, a)
}
