// Package config resolves run settings from an optional YAML file, the
// environment, and command-line flags (applied by the caller, in that order).
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/shpitdev/character-image-enricher/pkg/board"
	"github.com/shpitdev/character-image-enricher/pkg/lookup"
	"github.com/shpitdev/character-image-enricher/pkg/pipeline/core"
	"github.com/shpitdev/character-image-enricher/pkg/pipeline/worker"
)

const (
	EnvLogin          = "E621_LOGIN"
	EnvAPIKey         = "E621_API_KEY"
	EnvWorkers        = "WORKERS"
	EnvMaxRetries     = "MAX_RETRIES"
	EnvRateLimitRPS   = "RATE_LIMIT_RPS"
	EnvRequestTimeout = "REQUEST_TIMEOUT"
)

type Config struct {
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	Login   string `yaml:"login" validate:"required_with=APIKey"`
	APIKey  string `yaml:"api_key" validate:"required_with=Login"`

	Workers        int           `yaml:"workers" validate:"gte=1"`
	MaxRetries     int           `yaml:"max_retries" validate:"gte=1"`
	RetryDelay     time.Duration `yaml:"retry_delay" validate:"gte=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`

	// RateLimitRPS caps requests per second across all workers. 0 disables the limit.
	RateLimitRPS float64 `yaml:"rate_limit_rps" validate:"gte=0"`

	Debug       bool   `yaml:"debug"`
	MetricsFile string `yaml:"metrics_file"`
}

func Default() Config {
	return Config{
		BaseURL:        board.DefaultBaseURL,
		Workers:        worker.DefaultWorkers,
		MaxRetries:     lookup.DefaultMaxRetries,
		RetryDelay:     lookup.DefaultRetryDelay,
		RequestTimeout: board.DefaultTimeout,
		RateLimitRPS:   board.DefaultRateLimitRPS,
	}
}

// LoadFile overlays the YAML file at path onto cfg. Keys missing from the file keep
// their current values. Durations are written as Go duration strings ("3s").
func LoadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return &core.ConfigError{Field: path, Msg: err.Error()}
	}
	return nil
}

// ApplyEnv overlays environment values onto cfg. Unset or blank variables are ignored.
func ApplyEnv(getenv func(string) string, cfg *Config) error {
	if v := strings.TrimSpace(getenv(EnvLogin)); v != "" {
		cfg.Login = v
	}
	if v := strings.TrimSpace(getenv(EnvAPIKey)); v != "" {
		cfg.APIKey = v
	}

	var err error
	if cfg.Workers, err = envInt(getenv, EnvWorkers, cfg.Workers); err != nil {
		return err
	}
	if cfg.MaxRetries, err = envInt(getenv, EnvMaxRetries, cfg.MaxRetries); err != nil {
		return err
	}
	if cfg.RateLimitRPS, err = envFloat(getenv, EnvRateLimitRPS, cfg.RateLimitRPS); err != nil {
		return err
	}
	if cfg.RequestTimeout, err = envDuration(getenv, EnvRequestTimeout, cfg.RequestTimeout); err != nil {
		return err
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate reports the first invalid setting as a *core.ConfigError.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &core.ConfigError{Msg: err.Error()}
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required_with":
		return &core.ConfigError{Msg: "login and api_key must be provided together"}
	case "url":
		return &core.ConfigError{Field: fe.Field(), Msg: fmt.Sprintf("invalid url %q", fe.Value())}
	case "gte", "gt":
		op := ">="
		if fe.Tag() == "gt" {
			op = ">"
		}
		return &core.ConfigError{Field: fe.Field(), Msg: fmt.Sprintf("must be %s %s, got %v", op, fe.Param(), fe.Value())}
	default:
		return &core.ConfigError{Field: fe.Field(), Msg: fmt.Sprintf("failed %q validation", fe.Tag())}
	}
}

// Credentials returns the board credential pair.
func (c Config) Credentials() board.Credentials {
	return board.Credentials{Login: c.Login, APIKey: c.APIKey}
}

// BoardConfig maps the settings onto a board client config.
func (c Config) BoardConfig() board.Config {
	rps := c.RateLimitRPS
	if rps <= 0 {
		rps = -1
	}
	return board.Config{
		BaseURL:      c.BaseURL,
		Credentials:  c.Credentials(),
		Timeout:      c.RequestTimeout,
		RateLimitRPS: rps,
	}
}

// LookupOptions maps the settings onto lookup options.
func (c Config) LookupOptions() lookup.Options {
	opts := lookup.DefaultOptions()
	opts.MaxRetries = c.MaxRetries
	opts.RetryDelay = c.RetryDelay
	opts.Debug = c.Debug
	return opts
}

func envInt(getenv func(string) string, varName string, fallback int) (int, error) {
	v := strings.TrimSpace(getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, &core.ConfigError{Field: varName, Msg: fmt.Sprintf("invalid value %q: %v", v, err)}
	}
	return out, nil
}

func envFloat(getenv func(string) string, varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &core.ConfigError{Field: varName, Msg: fmt.Sprintf("invalid value %q: %v", v, err)}
	}
	return out, nil
}

func envDuration(getenv func(string) string, varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, &core.ConfigError{Field: varName, Msg: fmt.Sprintf("invalid value %q: %v", v, err)}
	}
	return out, nil
}
