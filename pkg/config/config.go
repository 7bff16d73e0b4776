// Package config loads runtime configuration from a file and MPP_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/sandboxws/isotope/mpp/pkg/exchange"
)

// EnvPrefix prefixes environment overrides, e.g. MPP_EXCHANGE_MAX_BUFFERED_BYTES.
const EnvPrefix = "MPP"

type ExchangeConfig struct {
	MaxBufferedBytes  int64 `mapstructure:"max_buffered_bytes"`
	MaxBufferedBlocks int   `mapstructure:"max_buffered_blocks"`
}

// Capacity converts the exchange settings to a buffer capacity.
func (c ExchangeConfig) Capacity() exchange.Capacity {
	return exchange.Capacity{MaxBytes: c.MaxBufferedBytes, MaxBlocks: c.MaxBufferedBlocks}
}

type SchedulerConfig struct {
	Workers int `mapstructure:"workers"`
}

type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Config is the runtime configuration.
type Config struct {
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

func defaultWorkers() int {
	n := runtime.NumCPU() * 2
	if n < 4 {
		n = 4
	}
	return n
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange.max_buffered_bytes", int64(64<<20))
	v.SetDefault("exchange.max_buffered_blocks", 0)
	v.SetDefault("scheduler.workers", defaultWorkers())
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.add_source", false)
	v.SetDefault("metrics.addr", "")
}

// Load reads configuration from path (optional, any format viper supports)
// and the environment, on top of defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the runtime cannot use.
func (c *Config) Validate() error {
	var errs []error
	if c.Exchange.MaxBufferedBytes < 0 {
		errs = append(errs, fmt.Errorf("exchange.max_buffered_bytes must not be negative, got %d", c.Exchange.MaxBufferedBytes))
	}
	if c.Exchange.MaxBufferedBlocks < 0 {
		errs = append(errs, fmt.Errorf("exchange.max_buffered_blocks must not be negative, got %d", c.Exchange.MaxBufferedBlocks))
	}
	if c.Scheduler.Workers < 1 {
		errs = append(errs, fmt.Errorf("scheduler.workers must be positive, got %d", c.Scheduler.Workers))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
