// Package config loads userauthd settings from the environment, after
// reading an optional .env file.
package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store backends selectable with USERAUTH_STORE
const (
	StoreFS        = "fs"
	StoreGorm      = "gorm"
	StoreSQL       = "sql"
	StoreDatastore = "datastore"
)

type Config struct {
	AppName string `env:"USERAUTH_APP_NAME" envDefault:"UserAuth"`

	HTTPAddr        string        `env:"USERAUTH_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr        string        `env:"USERAUTH_GRPC_ADDR"`
	ShutdownTimeout time.Duration `env:"USERAUTH_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	SecretKey  string        `env:"USERAUTH_SECRET_KEY"`
	SessionTTL time.Duration `env:"USERAUTH_SESSION_TTL" envDefault:"168h"`
	Issuer     string        `env:"USERAUTH_ISSUER" envDefault:"userauth"`

	EmailLinkBaseURL string        `env:"USERAUTH_EMAIL_LINK_BASE_URL" envDefault:"http://localhost:8080/verifyEmail"`
	EmailTTL         time.Duration `env:"USERAUTH_EMAIL_TTL" envDefault:"24h"`
	PhoneTTL         time.Duration `env:"USERAUTH_PHONE_TTL" envDefault:"10m"`
	BcryptCost       int           `env:"USERAUTH_BCRYPT_COST" envDefault:"10"`

	Store       string `env:"USERAUTH_STORE" envDefault:"fs"`
	StoragePath string `env:"USERAUTH_STORAGE_PATH" envDefault:"./data"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLDriver   string `env:"USERAUTH_SQL_DRIVER" envDefault:"sqlite"`
	GCPProject  string `env:"GOOGLE_CLOUD_PROJECT"`
	Namespace   string `env:"USERAUTH_DATASTORE_NAMESPACE"`

	SMTP   SMTP   `envPrefix:"SMTP_"`
	Twilio Twilio `envPrefix:"TWILIO_"`
	OAuth  OAuth
}

type SMTP struct {
	Host       string `env:"HOST"`
	Port       int    `env:"PORT" envDefault:"587"`
	Username   string `env:"USERNAME"`
	Password   string `env:"PASSWORD"`
	From       string `env:"FROM"`
	RequireTLS bool   `env:"REQUIRE_TLS"`
}

type Twilio struct {
	AccountSID string `env:"ACCOUNT_SID"`
	AuthToken  string `env:"AUTH_TOKEN"`
	From       string `env:"FROM"`
}

// OAuth credentials use the same variable names the oauth2 providers fall back to
type OAuth struct {
	GithubClientID       string `env:"OAUTH2_GITHUB_CLIENT_ID"`
	GithubClientSecret   string `env:"OAUTH2_GITHUB_CLIENT_SECRET"`
	GithubCallbackURL    string `env:"OAUTH2_GITHUB_CALLBACK_URL"`
	FacebookClientID     string `env:"OAUTH2_FACEBOOK_CLIENT_ID"`
	FacebookClientSecret string `env:"OAUTH2_FACEBOOK_CLIENT_SECRET"`
	FacebookCallbackURL  string `env:"OAUTH2_FACEBOOK_CALLBACK_URL"`
	GoogleClientID       string `env:"OAUTH2_GOOGLE_CLIENT_ID"`
	GoogleClientSecret   string `env:"OAUTH2_GOOGLE_CLIENT_SECRET"`
	GoogleCallbackURL    string `env:"OAUTH2_GOOGLE_CALLBACK_URL"`
}

// Load reads .env if present, then parses the environment
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate checks settings that have no usable default
func (c *Config) Validate() error {
	var errs []error
	if c.SecretKey == "" {
		errs = append(errs, errors.New("USERAUTH_SECRET_KEY is required"))
	}
	switch c.Store {
	case StoreFS:
	case StoreGorm:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the gorm store"))
		}
	case StoreSQL:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the sql store"))
		}
	case StoreDatastore:
		if c.GCPProject == "" {
			errs = append(errs, errors.New("GOOGLE_CLOUD_PROJECT is required for the datastore store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown USERAUTH_STORE %q", c.Store))
	}
	return errors.Join(errs...)
}

// Providers reports which OAuth providers have a client id configured
func (o OAuth) Providers() []string {
	var names []string
	if o.GithubClientID != "" {
		names = append(names, "github")
	}
	if o.FacebookClientID != "" {
		names = append(names, "facebook")
	}
	if o.GoogleClientID != "" {
		names = append(names, "google")
	}
	return names
}
