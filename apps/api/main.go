package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-playground/validator/v10"

	echoapi "github.com/trezcool/planner/apps/api/echo"
	"github.com/trezcool/planner/core"
	"github.com/trezcool/planner/core/auth"
	"github.com/trezcool/planner/core/planner"
	appfs "github.com/trezcool/planner/fs"
	emailsvc "github.com/trezcool/planner/services/email"
	logsvc "github.com/trezcool/planner/services/logger"
	"github.com/trezcool/planner/storage"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)
	defer logger.Close()

	storeLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "STORE : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	storeLogger.Enable(!conf.Debug)

	// set up storage
	ctx := context.Background()
	kv, closeKV, err := storage.Open(ctx, conf.Storage)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up storage: %v", err), err)
	}
	defer func() {
		if err := closeKV(); err != nil {
			storeLogger.Error(fmt.Sprintf("closing storage: %v", err), err)
		}
	}()

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	auth.InitValidators(validate, translator)

	core.ParseEmailTemplates(appfs.FS, conf.Debug, logger)

	store := planner.NewStore(kv, validate, storeLogger, planner.WithKey(conf.Storage.Key))
	if err := store.Hydrate(ctx); err != nil {
		// the store starts empty and reports the failure through its status
		logger.Error(fmt.Sprintf("hydrating planner: %v", err), err)
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, log.New(os.Stdout, "", 0), logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	authSvc := auth.NewService(conf, kv, mailSvc, logger)
	unsubscribeAuth := authSvc.OnAuthStateChanged(func(p *auth.Principal) {
		if p == nil {
			logger.Info("signed out")
			return
		}
		logger.Info(fmt.Sprintf("signed in with %s", p.Method), *p)
	})
	defer unsubscribeAuth()

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("storage").Set(conf.Storage.Engine)
	classes := expvar.NewInt("classes")
	updates := expvar.NewInt("updates")
	classes.Set(int64(len(store.Classes())))
	unsubscribeStore := store.Subscribe(func(snap planner.Snapshot) {
		classes.Set(int64(len(snap)))
		updates.Add(1)
	})
	defer unsubscribeStore()

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			Store:      store,
			AuthSvc:    authSvc,
			Validate:   validate,
			Translator: translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}

		// last chance to write changes a failed save left pending
		if err = store.Flush(ctx); err != nil {
			logger.Error(fmt.Sprintf("persisting planner state: %v", err), err)
		}
	}
}
