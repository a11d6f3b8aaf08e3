package core

import (
	"errors"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// defaultSecretKey is only accepted in the DEV and TEST environments.
const defaultSecretKey = "k2=lq9#vw0x!7n&d+e^b8p4$ir)c_fj3(5zm@ut6hyag1so*"

var (
	ErrDefaultSecretKey = errors.New("the default secret key may only be used in DEV and TEST; set <ENV>_SECRETKEY")
	ErrEmptySecretKey   = errors.New("the secret key must not be empty")
)

type (
	Config struct {
		Env      string // DEV (local; default), TEST, QA, PROD
		Build    string
		Debug    bool
		TestMode bool

		AppName                string
		SecretKey              string
		FrontendBaseURL        string
		defaultFromEmail       string
		AuthorizedEmail        string
		AuthorizedCredential   string // bcrypt hash; empty disables credential sign-in
		SignInLinkTimeoutDelta time.Duration

		RollbarToken   string
		SendgridApiKey string

		Server  ServerConfig
		Storage StorageConfig
	}

	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	StorageConfig struct {
		Engine string // memory | file | redis | postgres
		Key    string

		FileDir string

		RedisAddr     string
		RedisPassword string
		RedisDB       int
		RedisPrefix   string

		Database DatabaseConfig
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}
)

func (c *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: c.defaultFromEmail}
	}
	if addr.Name == "" {
		addr.Name = c.AppName
	}
	return *addr
}

func (c *Config) SetDefaultFromEmail(email string) {
	c.defaultFromEmail = email
}

// Check reports settings the app must not start with.
func (c *Config) Check() error {
	switch {
	case c.SecretKey == "":
		return ErrEmptySecretKey
	case c.SecretKey == defaultSecretKey && c.Env != "DEV" && c.Env != "TEST":
		return ErrDefaultSecretKey
	}
	return nil
}

func (db DatabaseConfig) Address() string {
	return db.Host + ":" + db.Port
}

// NewConfig loads the app configuration from defaults, the optional `config/.env.<env>` file and the environment.
// Environment variables are prefixed with the current ENV, eg. DEV_SECRETKEY, PROD_STORAGE_ENGINE.
// It exits if the resulting configuration fails Check.
func NewConfig() *Config {
	conf := loadConfig()
	if err := conf.Check(); err != nil {
		log.Fatalf("config: %v", err)
	}
	return conf
}

func loadConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "develop")
	v.SetDefault("appName", "Planner")
	v.SetDefault("secretKey", defaultSecretKey)
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("authorizedEmail", "")
	v.SetDefault("authorizedCredential", "")
	v.SetDefault("signInLinkTimeoutDelta", 30*time.Minute)
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)

	v.SetDefault("storage.engine", "file")
	v.SetDefault("storage.key", "classes")
	v.SetDefault("storage.fileDir", "data")
	v.SetDefault("storage.redisAddr", "localhost:6379")
	v.SetDefault("storage.redisPassword", "")
	v.SetDefault("storage.redisDB", 0)
	v.SetDefault("storage.redisPrefix", "planner:")
	v.SetDefault("storage.database.engine", "postgres")
	v.SetDefault("storage.database.host", "localhost")
	v.SetDefault("storage.database.port", "5432")
	v.SetDefault("storage.database.name", "planner")
	v.SetDefault("storage.database.user", "planner")
	v.SetDefault("storage.database.password", "")
	v.SetDefault("storage.database.adminUser", "")
	v.SetDefault("storage.database.adminPassword", "")
	v.SetDefault("storage.database.disableTLS", true)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	case "QA", "PROD":
		v.SetDefault("debug", false)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(os.Getenv("CONFIG_DIR"), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Env:                    env,
		Build:                  v.GetString("build"),
		Debug:                  v.GetBool("debug"),
		TestMode:               v.GetBool("testMode"),
		AppName:                v.GetString("appName"),
		SecretKey:              v.GetString("secretKey"),
		FrontendBaseURL:        strings.TrimRight(v.GetString("frontendBaseURL"), "/"),
		defaultFromEmail:       v.GetString("defaultFromEmail"),
		AuthorizedEmail:        CleanString(v.GetString("authorizedEmail"), true /* lower */),
		AuthorizedCredential:   v.GetString("authorizedCredential"),
		SignInLinkTimeoutDelta: v.GetDuration("signInLinkTimeoutDelta"),
		RollbarToken:           v.GetString("rollbarToken"),
		SendgridApiKey:         v.GetString("sendgridApiKey"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Address:                   v.GetString("server.address"),
			DebugHost:                 v.GetString("server.debugHost"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
		},
		Storage: StorageConfig{
			Engine:        strings.ToLower(v.GetString("storage.engine")),
			Key:           v.GetString("storage.key"),
			FileDir:       v.GetString("storage.fileDir"),
			RedisAddr:     v.GetString("storage.redisAddr"),
			RedisPassword: v.GetString("storage.redisPassword"),
			RedisDB:       v.GetInt("storage.redisDB"),
			RedisPrefix:   v.GetString("storage.redisPrefix"),
			Database: DatabaseConfig{
				Engine:        v.GetString("storage.database.engine"),
				Host:          v.GetString("storage.database.host"),
				Port:          v.GetString("storage.database.port"),
				Name:          v.GetString("storage.database.name"),
				User:          v.GetString("storage.database.user"),
				Password:      v.GetString("storage.database.password"),
				AdminUser:     v.GetString("storage.database.adminUser"),
				AdminPassword: v.GetString("storage.database.adminPassword"),
				DisableTLS:    v.GetBool("storage.database.disableTLS"),
			},
		},
	}
}
