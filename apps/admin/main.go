package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/planner/core"
	"github.com/trezcool/planner/core/auth"
	"github.com/trezcool/planner/core/planner"
	appfs "github.com/trezcool/planner/fs"
	emailsvc "github.com/trezcool/planner/services/email"
	logsvc "github.com/trezcool/planner/services/logger"
	"github.com/trezcool/planner/storage"
	"github.com/trezcool/planner/storage/database"
	sqlxkv "github.com/trezcool/planner/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stderr, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	cli, closeFn, err := setUp(conf, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up: %v", err), err)
	}

	err = cli.run(os.Args, os.Stdout)
	cli.mailSvc.Wait()
	if cerr := closeFn(); cerr != nil {
		logger.Error(fmt.Sprintf("closing storage: %v", cerr), cerr)
	}
	logger.Close()
	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func setUp(conf *core.Config, logger core.Logger) (*commandLine, func() error, error) {
	ctx := context.Background()

	var (
		db      *sqlx.DB
		kv      core.KeyValueStore
		closeFn func() error
		err     error
	)
	if conf.Storage.Engine == storage.EnginePostgres {
		if err = database.CreateIfNotExist(conf.Storage.Database); err != nil {
			return nil, nil, err
		}
		if db, err = database.Open(conf.Storage.Database); err != nil {
			return nil, nil, err
		}
		kv, closeFn = sqlxkv.New(db), db.Close
	} else if kv, closeFn, err = storage.Open(ctx, conf.Storage); err != nil {
		return nil, nil, err
	}

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	auth.InitValidators(validate, translator)

	core.ParseEmailTemplates(appfs.FS, false, logger)

	store := planner.NewStore(kv, validate, logger, planner.WithKey(conf.Storage.Key))
	if err = store.Hydrate(ctx); err != nil && db == nil {
		// the kv_entries table does not exist before the first `migrate up`
		return nil, nil, err
	}

	var mailSvc emailsvc.Service
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, log.New(os.Stdout, "", 0), logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	return &commandLine{
		conf:       conf,
		store:      store,
		authSvc:    auth.NewService(conf, kv, mailSvc, logger),
		mailSvc:    mailSvc,
		validate:   validate,
		translator: translator,
		db:         db,
		stdinFd:    int(os.Stdin.Fd()),
	}, closeFn, nil
}
