package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trezcool/planner/core"
	"github.com/trezcool/planner/core/auth"
	"github.com/trezcool/planner/core/planner"
	emailsvc "github.com/trezcool/planner/services/email"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf       *core.Config
	store      *planner.Store
	authSvc    *auth.Service
	mailSvc    emailsvc.Service
	validate   *validator.Validate
	translator ut.Translator
	db         *sqlx.DB // nil unless the postgres engine is used
	stdinFd    int
}

// run executes args (program name first) and writes the output to out.
func (cli *commandLine) run(args []string, out io.Writer) error {
	root := cli.rootCmd()
	root.SetOut(out)
	root.SetErr(out)
	if len(args) < 2 {
		_ = root.Usage()
		return errHelp
	}
	root.SetArgs(args[1:])
	return root.Execute()
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Planner administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return errHelp
		},
	}
	root.AddCommand(
		cli.hashCredentialCmd(),
		cli.signInLinkCmd(),
		cli.classesCmd(),
		cli.exportCmd(),
		cli.importCmd(),
		cli.migrateCmd(),
	)
	return root
}

// translate turns validation errors into a single readable error.
func (cli *commandLine) translate(err error) error {
	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) {
		return err
	}
	msgs := make([]string, 0, len(vErrs))
	for _, vErr := range vErrs {
		msgs = append(msgs, fmt.Sprintf("%s: %s", vErr.Field(), vErr.Translate(cli.translator)))
	}
	sort.Strings(msgs)
	return errors.New(strings.Join(msgs, "; "))
}
