package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atinyakov/keepsync/internal/app"
)

func newPeerCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Inspect and pin peer identities",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <username>",
			Short: "Print a peer's fingerprint and trust state",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					p, err := a.Session.GetPeer(ctx, args[0])
					if p != nil {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\ttrusted=%t\n", p.Username, p.Fingerprint, p.IsTrusted())
					}
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "trust <username>",
			Short: "Pin a peer's current fingerprint",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
					p, err := a.Session.GetPeer(ctx, args[0])
					if err != nil {
						return err
					}
					if err := a.Session.TrustPeer(ctx, p); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "pinned %s %s\n", p.Username, p.Fingerprint)
					return nil
				})
			},
		},
	)
	return cmd
}
