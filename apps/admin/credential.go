package main

import (
	"github.com/spf13/cobra"

	"github.com/trezcool/planner/core/auth"
)

func (cli *commandLine) hashCredentialCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "hashcredential",
		Short: "Hash a new credential for the authorized email",
		Long: `Prompts for a credential twice and prints its hash.
Set the hash as AUTHORIZEDCREDENTIAL to enable credential sign-in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				email = cli.conf.AuthorizedEmail
			}

			cmd.Print("Enter credential:")
			cred, err := readPasswordFunc(cli.stdinFd)
			cmd.Println()
			if err != nil {
				return err
			}
			if len(cred) == 0 {
				_ = cmd.Usage()
				return errHelp
			}
			cmd.Print("Confirm credential:")
			confirm, err := readPasswordFunc(cli.stdinFd)
			cmd.Println()
			if err != nil {
				return err
			}

			nc := auth.NewCredential{Email: email, Credential: string(cred), Confirm: string(confirm)}
			if err := nc.Validate(cli.validate); err != nil {
				return cli.translate(err)
			}
			hash, err := auth.HashCredential(nc.Credential)
			if err != nil {
				return err
			}
			cmd.Println(hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email the credential must not resemble (defaults to the authorized email)")
	return cmd
}

func (cli *commandLine) signInLinkCmd() *cobra.Command {
	var (
		email string
		send  bool
	)
	cmd := &cobra.Command{
		Use:   "signinlink",
		Short: "Print a sign-in link for the authorized email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				email = cli.conf.AuthorizedEmail
			}
			if send {
				if err := cli.authSvc.SendSignInLink(cmd.Context(), email); err != nil {
					return err
				}
				cmd.Printf("sign-in link sent to %s\n", email)
				return nil
			}
			link, err := cli.authSvc.SignInLink(cmd.Context(), email)
			if err != nil {
				return err
			}
			cmd.Println(link)
			cmd.Printf("valid for %v\n", cli.conf.SignInLinkTimeoutDelta)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email to sign in with (defaults to the authorized email)")
	cmd.Flags().BoolVar(&send, "send", false, "email the link instead of printing it")
	return cmd
}
