package testutil

import (
	"bytes"
	"log"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/planner/core"
	"github.com/trezcool/planner/core/auth"
	appfs "github.com/trezcool/planner/fs"
	logsvc "github.com/trezcool/planner/services/logger"
)

const (
	AuthorizedEmail = "teacher@school.test"
	Credential      = "Ch@lkb0ard-42"
)

// NewConfig returns a TEST configuration authorizing AuthorizedEmail, with credential sign-in enabled for Credential.
func NewConfig() *core.Config {
	hash, err := auth.HashCredential(Credential)
	if err != nil {
		log.Fatalf("testutil.NewConfig: %v", err)
	}
	conf := &core.Config{
		Env:                    "TEST",
		Build:                  "test",
		TestMode:               true,
		AppName:                "Planner",
		SecretKey:              "test-secret",
		FrontendBaseURL:        "http://planner.test",
		AuthorizedEmail:        AuthorizedEmail,
		AuthorizedCredential:   hash,
		SignInLinkTimeoutDelta: 30 * time.Minute,
		Server: core.ServerConfig{
			Host:                      "localhost",
			Address:                   ":0",
			ShutdownTimeout:           time.Second,
			JWTExpirationDelta:        time.Hour,
			JWTRefreshExpirationDelta: 4 * time.Hour,
		},
		Storage: core.StorageConfig{Engine: "memory", Key: "classes"},
	}
	conf.SetDefaultFromEmail("noreply@planner.test")
	return conf
}

// NewLogger returns a Rollbar logger with reporting disabled, writing to buf.
func NewLogger(buf *bytes.Buffer) *logsvc.RollbarLogger {
	logger := logsvc.NewRollbarLogger(log.New(buf, "TEST : ", log.LstdFlags), NewConfig())
	logger.Enable(false)
	return logger
}

// NewValidator returns a validator configured like the applications'.
func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	auth.InitValidators(validate, translator)
	return validate, translator
}

// ParseEmailTemplates loads the embedded email templates in strict mode.
func ParseEmailTemplates(logger core.Logger) {
	core.ParseEmailTemplates(appfs.FS, true, logger)
}
