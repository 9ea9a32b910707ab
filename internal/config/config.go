// Package config loads zakapp settings.
//
// Sources are layered, later ones winning: built-in defaults, an optional
// YAML file, a .env file, the process environment (ZAKAPP_ prefix), and
// finally command-line flags applied by the caller.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/slimatic/zakapp-sub004/internal/commit"
	"github.com/slimatic/zakapp-sub004/internal/identity"
	"github.com/slimatic/zakapp-sub004/internal/model"
	"github.com/slimatic/zakapp-sub004/internal/store"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "ZAKAPP"

// Config is the full application configuration.
type Config struct {
	Namespace       string `yaml:"namespace" envconfig:"NAMESPACE" validate:"required"`
	SchemaVersion   int64  `yaml:"schemaVersion" envconfig:"SCHEMA_VERSION" validate:"min=1"`
	AppVersion      string `yaml:"appVersion" envconfig:"APP_VERSION" validate:"required"`
	FingerprintSalt string `yaml:"fingerprintSalt" envconfig:"FINGERPRINT_SALT"`
	// KeySalt derives field keys given as "pass:<passphrase>".
	KeySalt string `yaml:"keySalt" envconfig:"KEY_SALT" validate:"omitempty,min=8"`

	Database Database `yaml:"database" envconfig:"DATABASE"`

	Atomicity           string `yaml:"atomicity" envconfig:"ATOMICITY" validate:"oneof=collection account"`
	ParallelCollections bool   `yaml:"parallelCollections" envconfig:"PARALLEL_COLLECTIONS"`

	HTTP HTTP `yaml:"http" envconfig:"HTTP"`
}

// Database selects the destination store.
type Database struct {
	Driver string `yaml:"driver" envconfig:"DRIVER" validate:"oneof=sqlite3 pgx"`
	DSN    string `yaml:"dsn" envconfig:"DSN" validate:"required"`
}

// HTTP configures the serve command.
type HTTP struct {
	Addr string `yaml:"addr" envconfig:"ADDR" validate:"required,hostname_port"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Namespace:     identity.DefaultNamespace,
		SchemaVersion: model.CurrentSchemaVersion,
		AppVersion:    "dev",
		Database: Database{
			Driver: store.DriverSQLite,
			DSN:    "zakapp.db",
		},
		Atomicity: string(commit.ModeCollection),
		HTTP:      HTTP{Addr: "127.0.0.1:8080"},
	}
}

// Load builds the configuration from defaults, the YAML file at path
// (skipped when path is empty), envFile (ignored when missing) and the
// environment. The result is not validated; call Validate after applying
// flags.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s fails %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Mode returns the parsed atomicity mode.
func (c Config) Mode() commit.Mode {
	m, err := commit.ParseMode(c.Atomicity)
	if err != nil {
		return commit.ModeCollection
	}
	return m
}

// Hasher builds the identity hasher for the configured namespace.
func (c Config) Hasher() (*identity.Hasher, error) {
	return identity.NewHasher(identity.Config{Namespace: c.Namespace})
}
