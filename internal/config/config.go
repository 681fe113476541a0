// Package config loads process configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/go-faster/errors"

	"multisig-console/internal/logging"
)

type Config struct {
	Log struct {
		Level      string `env:"LOG_LEVEL" envDefault:"info"`
		File       string `env:"LOG_FILE"`
		MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
		MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
		Console    bool   `env:"LOG_CONSOLE" envDefault:"true"`
	}
	Chains struct {
		File    string `env:"CHAINS_FILE" envDefault:"chains.yaml"`
		Default string `env:"DEFAULT_CHAIN" envDefault:"devnet"`
	}
	RPC struct {
		Timeout    time.Duration `env:"RPC_TIMEOUT" envDefault:"30s"`
		RateLimit  uint64        `env:"RPC_RATE_LIMIT" envDefault:"0"`
		RateWindow time.Duration `env:"RPC_RATE_WINDOW" envDefault:"1s"`
	}
	Cache struct {
		TTL time.Duration `env:"CACHE_TTL" envDefault:"30s"`
	}
	Retry struct {
		Attempts  uint          `env:"RETRY_ATTEMPTS" envDefault:"3"`
		BaseDelay time.Duration `env:"RETRY_BASE_DELAY" envDefault:"1s"`
	}
	Signer struct {
		Timeout        time.Duration `env:"SIGNER_TIMEOUT" envDefault:"60s"`
		Mnemonic       string        `env:"MNEMONIC"`
		Passphrase     string        `env:"MNEMONIC_PASSPHRASE"`
		DerivationPath string        `env:"DERIVATION_PATH" envDefault:"m/44'/501'/0'/0'"`
	}
	Confirm struct {
		Timeout      time.Duration `env:"CONFIRM_TIMEOUT" envDefault:"90s"`
		PollInterval time.Duration `env:"CONFIRM_POLL_INTERVAL" envDefault:"2s"`
	}
	Storage struct {
		PostgresDSN   string `env:"POSTGRES_DSN"`
		ClickhouseDSN string `env:"CLICKHOUSE_DSN"`
	}
	MetricsAddr string `env:"METRICS_ADDR"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads the configuration from vars instead of the process
// environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var c Config
	if err := env.Parse(&c, opts); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects values no component can work with.
func (c Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Retry.Attempts == 0 {
		return errors.New("RETRY_ATTEMPTS must be at least 1")
	}
	if c.Cache.TTL <= 0 {
		return errors.New("CACHE_TTL must be positive")
	}
	if c.Signer.Timeout <= 0 {
		return errors.New("SIGNER_TIMEOUT must be positive")
	}
	if c.RPC.RateLimit > 0 && c.RPC.RateWindow <= 0 {
		return errors.New("RPC_RATE_WINDOW must be positive when RPC_RATE_LIMIT is set")
	}
	return nil
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	return logging.Config{
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		Console:    c.Log.Console,
	}
}
