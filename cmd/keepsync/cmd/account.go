package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/atinyakov/keepsync/internal/account"
	"github.com/atinyakov/keepsync/internal/app"
	"github.com/atinyakov/keepsync/internal/crypto"
)

func newAccountCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage the local account",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a new account key file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.opts.Username == "" {
				return errors.New("username is required")
			}
			if _, err := os.Stat(c.opts.AccountFile); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to replace it", c.opts.AccountFile)
			}
			acct, err := crypto.NewAccount(c.opts.Username)
			if err != nil {
				return err
			}
			if err := account.Save(c.opts.AccountFile, c.opts.Passphrase, acct); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %s written to %s\nfingerprint %s\n",
				acct.Username, c.opts.AccountFile, crypto.NaCl{}.Fingerprint(acct.PubKey, acct.SignKeyPub))
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "replace an existing account file")

	fingerprintCmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the account fingerprint to share with peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			acct, err := account.Load(c.opts.AccountFile, c.opts.Passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), crypto.NaCl{}.Fingerprint(acct.PubKey, acct.SignKeyPub))
			return nil
		},
	}

	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Publish the account's public keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Register(ctx)
			})
		},
	}

	cmd.AddCommand(initCmd, fingerprintCmd, registerCmd)
	return cmd
}
