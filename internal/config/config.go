// Package config loads the relay's settings from the environment (and an optional .env file).
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Backend and delivery mode names.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"

	DeliveryLocal = "local"
	DeliveryRedis = "redis"
)

// Config holds every setting of the relay server and the admin CLI.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
	JWTSecret string `env:"JWT_SECRET"`
	// empty means same-origin only; "*" allows any origin
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	RegistryBackend string `env:"REGISTRY_BACKEND" envDefault:"memory"`
	HistoryBackend  string `env:"HISTORY_BACKEND" envDefault:"memory"`
	DatabaseDSN     string `env:"DATABASE_DSN"`
	RedisAddr       string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword   string `env:"REDIS_PASSWORD"`
	RedisDB         int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix     string `env:"REDIS_PREFIX" envDefault:"relay:"`
	DeliveryMode    string `env:"DELIVERY_MODE" envDefault:"local"`

	ConnectionTTL   time.Duration `env:"CONNECTION_TTL" envDefault:"3h"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	DeliveryTimeout time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"5s"`
	FanoutLimit     int           `env:"FANOUT_LIMIT" envDefault:"64"`
	MaxBodyBytes    int           `env:"MAX_BODY_BYTES" envDefault:"4096"`
}

// Load reads .env if present, then parses and validates the environment.
func Load() (Config, error) {
	cfg, err := Read()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read is Load without validation, for tools that need only part of the settings.
func Read() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("config: no .env file loaded")
	}
	return parse()
}

// Parse reads and validates the process environment only.
func Parse() (Config, error) {
	cfg, err := parse()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate rejects combinations the relay cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch c.RegistryBackend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("REGISTRY_BACKEND %q: want memory or redis", c.RegistryBackend))
	}

	switch c.HistoryBackend {
	case BackendMemory:
	case BackendPostgres, BackendSQLite:
		if c.DatabaseDSN == "" {
			errs = append(errs, fmt.Errorf("DATABASE_DSN is required for HISTORY_BACKEND %s", c.HistoryBackend))
		}
	default:
		errs = append(errs, fmt.Errorf("HISTORY_BACKEND %q: want memory, postgres or sqlite", c.HistoryBackend))
	}

	switch c.DeliveryMode {
	case DeliveryLocal:
		// a shared registry lists members held by other processes; local delivery would
		// report them gone and evict them
		if c.RegistryBackend == BackendRedis {
			errs = append(errs, errors.New("REGISTRY_BACKEND redis needs DELIVERY_MODE redis"))
		}
	case DeliveryRedis:
		if c.RegistryBackend != BackendRedis {
			errs = append(errs, errors.New("DELIVERY_MODE redis needs REGISTRY_BACKEND redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("DELIVERY_MODE %q: want local or redis", c.DeliveryMode))
	}

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.ConnectionTTL <= 0 {
		errs = append(errs, errors.New("CONNECTION_TTL must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.DeliveryTimeout <= 0 {
		errs = append(errs, errors.New("DELIVERY_TIMEOUT must be positive"))
	}
	if c.FanoutLimit <= 0 {
		errs = append(errs, errors.New("FANOUT_LIMIT must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}

	return errors.Join(errs...)
}

// UsesRedis reports whether any component needs a Redis client.
func (c Config) UsesRedis() bool {
	return c.RegistryBackend == BackendRedis || c.DeliveryMode == DeliveryRedis
}
