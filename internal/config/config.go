// Package config provides loading and parsing of the geistbind daemon
// configuration using Viper. It defines the configuration schema, its
// defaults and exposes the loaded values to other packages.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mfulz/geistbind/internal/acl"
	"github.com/mfulz/geistbind/internal/configloader"
	"github.com/mfulz/geistbind/internal/logging"
	"github.com/spf13/viper"
)

// Config represents the full structure of the geistbind configuration file.
type Config struct {
	Listen       string             `mapstructure:"listen" validate:"required"` // host:port of the websocket listener
	Path         string             `mapstructure:"path" validate:"required"`   // websocket endpoint path
	Workers      int                `mapstructure:"workers" validate:"gte=1"`   // bounded handler worker pool size
	Ping         time.Duration      `mapstructure:"ping" validate:"gte=0"`      // websocket keepalive, 0 disables
	Timeouts     TimeoutConfig      `mapstructure:"timeouts"`
	Dependencies DependenciesConfig `mapstructure:"dependencies"`
	Access       acl.Config         `mapstructure:"access"`
	Logger       logging.Config     `mapstructure:"log"`
}

// TimeoutConfig controls how long the dispatcher waits for handler operations.
type TimeoutConfig struct {
	Default time.Duration `mapstructure:"default" validate:"gt=0"` // bound early in a connection's life
	Reduced time.Duration `mapstructure:"reduced" validate:"gt=0"` // bound once the grace period is over
	Grace   time.Duration `mapstructure:"grace" validate:"gte=0"`  // measured from connection start
}

// DependenciesConfig controls the dependency gate.
type DependenciesConfig struct {
	Settle time.Duration            `mapstructure:"settle" validate:"gte=0"`    // pause after an installation
	Types  map[string][]Requirement `mapstructure:"types" validate:"dive,dive"` // extra requirements per device type
}

// Requirement is a binary a device type needs, with the command installing it.
type Requirement struct {
	Binary  string   `mapstructure:"binary" validate:"required"`
	Install []string `mapstructure:"install"`
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen", "0.0.0.0:15733")
	v.SetDefault("path", "/")
	v.SetDefault("workers", 16)
	v.SetDefault("ping", 0)
	v.SetDefault("timeouts.default", 60*time.Second)
	v.SetDefault("timeouts.reduced", 5*time.Second)
	v.SetDefault("timeouts.grace", 120*time.Second)
	v.SetDefault("dependencies.settle", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.to_stdout", true)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks the loaded values for consistency. The first violation is
// reported using the configuration key path.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	return fieldError(verrs[0])
}

func fieldError(fe validator.FieldError) error {
	// Namespace is prefixed with the root type name.
	_, key, _ := strings.Cut(fe.Namespace(), ".")
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s must not be empty", key)
	case "gt":
		return fmt.Errorf("%s must be positive, got %v", key, fe.Value())
	case "gte":
		if fe.Param() == "0" {
			return fmt.Errorf("%s must not be negative, got %v", key, fe.Value())
		}
		return fmt.Errorf("%s must be at least %s, got %v", key, fe.Param(), fe.Value())
	default:
		return fmt.Errorf("%s failed '%s' check", key, fe.Tag())
	}
}

// Load reads the daemon configuration. An explicit path takes precedence over
// the resolved locations; if no file exists anywhere the defaults are used.
// The logging configuration is applied and the result is registered with the
// configloader registry.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("GEISTBIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		resolved, err := configloader.ResolveConfigPath("geistbind", "geistbind.yaml")
		if err != nil && !errors.Is(err, configloader.ErrNoConfig) {
			return nil, err
		}
		path = resolved
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	configloader.SetConfig(&cfg.Logger)
	if err := logging.Init(); err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	configloader.SetConfig(&cfg)
	return &cfg, nil
}
