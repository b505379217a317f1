package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Port                 string        `env:"PORT" envDefault:"8080"`
	Env                  string        `env:"ENV" envDefault:"development"`
	Debug                bool          `env:"DEBUG" envDefault:"false"`
	DatabasePath         string        `env:"DATABASE_PATH" envDefault:"ledger.db"`
	MaxOpenConns         int           `env:"DB_MAX_OPEN_CONNS" envDefault:"1"`
	Timezone             string        `env:"LEDGER_TIMEZONE" envDefault:"Local"`
	TradeTimeout         time.Duration `env:"TRADE_TIMEOUT" envDefault:"10s"`
	TradeMaxAttempts     int           `env:"TRADE_MAX_ATTEMPTS" envDefault:"3"`
	SagaRecoveryInterval time.Duration `env:"SAGA_RECOVERY_INTERVAL" envDefault:"1m"`
	SagaStaleAfter       time.Duration `env:"SAGA_STALE_AFTER" envDefault:"30s"`
	SeedFile             string        `env:"SEED_FILE"`
}

// Load reads an optional .env file and then the process environment
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.TradeMaxAttempts < 1 {
		return Config{}, fmt.Errorf("TRADE_MAX_ATTEMPTS must be at least 1, got %d", cfg.TradeMaxAttempts)
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Location resolves the ledger's reference time zone
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid LEDGER_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c Config) Production() bool {
	return c.Env == "production"
}
