package splitjoin

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultTimeout is the batch timeout applied when none is configured.
	DefaultTimeout = 10 * time.Minute
	// DefaultPooledMaxThreads is the worker count of a pooled engine when MaxThreads is not set.
	DefaultPooledMaxThreads = 10
	// DefaultIdleTimeout is how long a pooled worker may stay idle before being stopped.
	DefaultIdleTimeout = time.Minute
	// DefaultCloseGrace is how long Close waits for running tasks.
	DefaultCloseGrace = 30 * time.Second

	// EnvPrefix prefixes environment variables read by LoadConfig.
	EnvPrefix = "SPLITJOIN"
)

// Config is the engine configuration surface.
type Config struct {
	// MaxThreads bounds the number of concurrent tasks. Zero means unbounded for an unpooled engine and
	// DefaultPooledMaxThreads for a pooled one.
	MaxThreads int `mapstructure:"max_threads"`
	// Timeout is the single deadline covering a whole batch of sub-units. Zero disables it.
	Timeout time.Duration `mapstructure:"timeout"`
	// Pooled selects the pooled variant: a fixed set of long-lived workers shared by all tasks.
	Pooled bool `mapstructure:"pooled"`
	// WarmStart starts every pooled worker when the engine is built.
	WarmStart bool `mapstructure:"warm_start"`
	// IdleTimeout stops pooled workers idle for longer. Zero keeps them forever.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// BorrowTimeout bounds the wait for a pooled worker. Zero waits indefinitely.
	BorrowTimeout time.Duration `mapstructure:"borrow_timeout"`
	// CloseGrace bounds how long Close waits for running tasks.
	CloseGrace time.Duration `mapstructure:"close_grace"`
}

// DefaultConfig returns the configuration of an unpooled engine with an unbounded scheduler.
func DefaultConfig() Config {
	return Config{
		Timeout:     DefaultTimeout,
		IdleTimeout: DefaultIdleTimeout,
		CloseGrace:  DefaultCloseGrace,
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	switch {
	case c.MaxThreads < 0:
		return fmt.Errorf("%w: max_threads must not be negative, got %d", ErrInvalidConfig, c.MaxThreads)
	case c.Timeout < 0:
		return fmt.Errorf("%w: timeout must not be negative, got %s", ErrInvalidConfig, c.Timeout)
	case c.IdleTimeout < 0:
		return fmt.Errorf("%w: idle_timeout must not be negative, got %s", ErrInvalidConfig, c.IdleTimeout)
	case c.BorrowTimeout < 0:
		return fmt.Errorf("%w: borrow_timeout must not be negative, got %s", ErrInvalidConfig, c.BorrowTimeout)
	case c.CloseGrace < 0:
		return fmt.Errorf("%w: close_grace must not be negative, got %s", ErrInvalidConfig, c.CloseGrace)
	}
	return nil
}

// workers returns the effective concurrency limit, 0 meaning unbounded.
func (c Config) workers() int {
	if c.Pooled && c.MaxThreads == 0 {
		return DefaultPooledMaxThreads
	}
	return c.MaxThreads
}

// SetDefaults registers the default values of every configuration key on v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("max_threads", d.MaxThreads)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("pooled", d.Pooled)
	v.SetDefault("warm_start", d.WarmStart)
	v.SetDefault("idle_timeout", d.IdleTimeout)
	v.SetDefault("borrow_timeout", d.BorrowTimeout)
	v.SetDefault("close_grace", d.CloseGrace)
}

// NewViper returns a viper instance reading SPLITJOIN_* environment variables, with defaults set.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// LoadConfig reads the configuration from v. Durations accept Go duration strings such as "90s".
func LoadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, cfg.Validate()
}

// LoadConfigFile reads the configuration from a yaml or json file, with environment overrides.
func LoadConfigFile(path string) (Config, error) {
	v := NewViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("%w: read %s: %w", ErrInvalidConfig, path, err)
	}
	return LoadConfig(v)
}
