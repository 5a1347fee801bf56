package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atinyakov/keepsync/internal/app"
)

func newContainerCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "container",
		Short: "Manage containers",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "create <name>",
			Short: "Create a container",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					ct, err := a.Session.Create(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), ct.NameHmac)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete a container",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					return a.Session.DeleteContainer(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "get <name>",
			Short: "Print a container's state as JSON",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					ct, err := a.Session.Load(ctx, args[0])
					if err != nil {
						return err
					}
					state, err := ct.MarshalState()
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), string(state))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set <name> <key> <json-value>",
			Short: "Set one key of a container; a null value removes it",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				var v any
				if err := json.Unmarshal([]byte(args[2]), &v); err != nil {
					return fmt.Errorf("value must be JSON: %w", err)
				}
				return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					ct, err := a.Session.Load(ctx, args[0])
					if err != nil {
						return err
					}
					return a.Session.SaveContainer(ctx, ct, map[string]any{args[1]: v})
				})
			},
		},
	)
	return cmd
}
