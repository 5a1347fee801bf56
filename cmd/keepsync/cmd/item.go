package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atinyakov/keepsync/internal/app"
)

func newItemCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Manage items",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <name>",
			Short: "Print an item's value, creating the item if needed",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					it, err := a.Session.GetOrCreateItem(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\n", it.Value())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set <name> <value>",
			Short: "Write an item's value",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					it, err := a.Session.GetOrCreateItem(ctx, args[0])
					if err != nil {
						return err
					}
					return a.Session.SaveItem(ctx, it, []byte(args[1]))
				})
			},
		},
		&cobra.Command{
			Use:   "rm <name>",
			Short: "Remove an item",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					it, err := a.Session.GetOrCreateItem(ctx, args[0])
					if err != nil {
						return err
					}
					return a.Session.RemoveItem(ctx, it.NameHmac)
				})
			},
		},
	)
	return cmd
}
