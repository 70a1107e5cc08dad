/*
config.go - Environment configuration

PURPOSE:
  Loads service settings from the process environment, optionally seeded
  from a .env file. Keys are matched case-insensitively, so both
  HTTP_PORT and http_port work.

KEYS:
  APPLICATION_NAME   default virtual-bank-accounts
  APP_ENV            dev | test | production | staging (default dev)
  IS_PRODUCTION      default false for dev/test, true otherwise
  HTTP_PORT          default 8080
  LOG_LEVEL          debug | info | warn | error (default info)
  STORE_DRIVER       sqlite | postgres (default sqlite)
  SQLITE_PATH        default ledger.db
  POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB,
  POSTGRES_USER, POSTGRES_PASSWORD   required when STORE_DRIVER=postgres
  POSTGRES_SCHEMA    default public
  POSTGRES_SSLMODE   default disable

ERRORS:
  Any missing or malformed key is reported through one IncompleteEnvError
  naming every offending key.
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the resolved settings.
type Config struct {
	ApplicationName string `env:"application_name" validate:"required"`
	AppEnv          string `env:"app_env" validate:"oneof=dev test production staging"`
	IsProduction    bool   `env:"is_production"`
	HTTPPort        int    `env:"http_port" validate:"min=1,max=65535"`
	LogLevel        string `env:"log_level" validate:"oneof=debug info warn error"`

	StoreDriver string `env:"store_driver" validate:"oneof=sqlite postgres"`
	SQLitePath  string `env:"sqlite_path" validate:"required_if=StoreDriver sqlite"`

	PostgresHost     string `env:"postgres_host" validate:"required_if=StoreDriver postgres"`
	PostgresPort     int    `env:"postgres_port" validate:"required_if=StoreDriver postgres"`
	PostgresDB       string `env:"postgres_db" validate:"required_if=StoreDriver postgres"`
	PostgresUser     string `env:"postgres_user" validate:"required_if=StoreDriver postgres"`
	PostgresPassword string `env:"postgres_password" validate:"required_if=StoreDriver postgres"`
	PostgresSchema   string `env:"postgres_schema" validate:"required"`
	PostgresSSLMode  string `env:"postgres_sslmode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
}

// IncompleteEnvError lists the environment keys that are missing or invalid.
type IncompleteEnvError struct {
	Keys []string
	Err  error
}

func (e *IncompleteEnvError) Error() string {
	return fmt.Sprintf("incomplete environment: missing or invalid keys [%s]", strings.Join(e.Keys, ", "))
}

func (e *IncompleteEnvError) Unwrap() error {
	return e.Err
}

// Load reads envFile (".env" when empty) into the process environment and
// resolves the configuration. A missing default .env file is ignored; a
// missing explicit file is an error.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read .env: %w", err)
		}
	} else if err := godotenv.Load(envFile); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
	}

	return FromEnv(environ())
}

// FromEnv resolves the configuration from a lower-cased key map.
func FromEnv(env map[string]string) (*Config, error) {
	get := func(key, fallback string) string {
		if v, ok := env[key]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}

	var invalid []string
	atoi := func(key, fallback string) int {
		raw := get(key, fallback)
		if raw == "" {
			return 0
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			invalid = append(invalid, strings.ToUpper(key))
			return 0
		}
		return n
	}

	cfg := &Config{
		ApplicationName:  get("application_name", "virtual-bank-accounts"),
		AppEnv:           get("app_env", "dev"),
		HTTPPort:         atoi("http_port", "8080"),
		LogLevel:         strings.ToLower(get("log_level", "info")),
		StoreDriver:      strings.ToLower(get("store_driver", DriverSQLite)),
		SQLitePath:       get("sqlite_path", "ledger.db"),
		PostgresHost:     get("postgres_host", ""),
		PostgresPort:     atoi("postgres_port", ""),
		PostgresDB:       get("postgres_db", ""),
		PostgresUser:     get("postgres_user", ""),
		PostgresPassword: get("postgres_password", ""),
		PostgresSchema:   get("postgres_schema", "public"),
		PostgresSSLMode:  get("postgres_sslmode", "disable"),
	}

	cfg.IsProduction = cfg.AppEnv != "dev" && cfg.AppEnv != "test"
	if raw := get("is_production", ""); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			invalid = append(invalid, "IS_PRODUCTION")
		} else {
			cfg.IsProduction = b
		}
	}

	err := cfg.Validate()
	var incomplete *IncompleteEnvError
	switch {
	case err == nil && len(invalid) == 0:
		return cfg, nil
	case errors.As(err, &incomplete):
		incomplete.Keys = mergeKeys(incomplete.Keys, invalid)
		return nil, incomplete
	case err != nil:
		return nil, err
	default:
		return nil, &IncompleteEnvError{Keys: mergeKeys(nil, invalid)}
	}
}

// Validate checks the struct tags. Flag overrides should call it again.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("config validation: %w", err)
	}
	keys := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		keys = append(keys, strings.ToUpper(fe.Field()))
	}
	return &IncompleteEnvError{Keys: mergeKeys(keys, nil), Err: err}
}

// PostgresDSN builds a pgx connection URL with search_path set to the schema.
func (c *Config) PostgresDSN() string {
	q := url.Values{}
	q.Set("sslmode", c.PostgresSSLMode)
	q.Set("search_path", c.PostgresSchema)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     net.JoinHostPort(c.PostgresHost, strconv.Itoa(c.PostgresPort)),
		Path:     "/" + c.PostgresDB,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// ===== HELPERS =====

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[strings.ToLower(key)] = value
	}
	return env
}

func mergeKeys(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, k := range append(append([]string{}, a...), b...) {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
