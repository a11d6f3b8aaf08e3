package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/trezcool/planner/storage/database"
)

var (
	gooseRunFunc = database.RunMigrations // mockable

	errNoDatabase = errors.New("migrate requires the postgres storage engine")
)

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS...]",
		Short: "Run a goose migration command (up, down, status, version, ...)",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Usage()
				return errHelp
			}
			if cli.db == nil {
				return errNoDatabase
			}
			return gooseRunFunc(args[0], cli.db, database.MigrationsDir, args[1:]...)
		},
	}
}
