// Package config provides a reusable loader for token-wallet tunables from
// configuration files and environment variables.
//
// Version: v0.1.0
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/unicitynetwork/token-wallet/internal/werr"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config holds every tunable named by the wallet's spec: pruning caps,
// poller cadence, finalization retry ceilings and sync debounce timing.
type Config struct {
	Pruning struct {
		TombstoneMaxAge   time.Duration `mapstructure:"tombstone_max_age" json:"tombstone_max_age"`
		TombstoneMaxCount int           `mapstructure:"tombstone_max_count" json:"tombstone_max_count"`
		ArchiveMaxCount   int           `mapstructure:"archive_max_count" json:"archive_max_count"`
		ForkMaxCount      int           `mapstructure:"fork_max_count" json:"fork_max_count"`
	} `mapstructure:"pruning" json:"pruning"`

	Poller struct {
		TickInterval  time.Duration `mapstructure:"tick_interval" json:"tick_interval"`
		QuickTimeout  time.Duration `mapstructure:"quick_timeout" json:"quick_timeout"`
		MaxAttempts   int           `mapstructure:"max_attempts" json:"max_attempts"`
	} `mapstructure:"poller" json:"poller"`

	Finalization struct {
		MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts"`
	} `mapstructure:"finalization" json:"finalization"`

	Sync struct {
		DebounceInterval time.Duration `mapstructure:"debounce_interval" json:"debounce_interval"`
	} `mapstructure:"sync" json:"sync"`

	PaymentRequest struct {
		DefaultTimeout time.Duration `mapstructure:"default_timeout" json:"default_timeout"`
	} `mapstructure:"payment_request" json:"payment_request"`
}

// Default returns the tunables named explicitly by the spec.
func Default() Config {
	var c Config
	c.Pruning.TombstoneMaxAge = 30 * 24 * time.Hour
	c.Pruning.TombstoneMaxCount = 100
	c.Pruning.ArchiveMaxCount = 100
	c.Pruning.ForkMaxCount = 50
	c.Poller.TickInterval = 2 * time.Second
	c.Poller.QuickTimeout = 500 * time.Millisecond
	c.Poller.MaxAttempts = 30
	c.Finalization.MaxAttempts = 50
	c.Sync.DebounceInterval = 500 * time.Millisecond
	c.PaymentRequest.DefaultTimeout = 60 * time.Second
	return c
}

// Load starts from Default(), reads an optional wallet.yaml (from . or
// ./config), merges an optional wallet.<env>.yaml when env is non-empty, and
// applies environment-variable overrides (e.g. POLLER_TICK_INTERVAL) last.
func Load(env string) (*Config, error) {
	c := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("wallet")
	v.AddConfigPath(".")
	v.AddConfigPath("config")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, werr.Wrap(err, "load wallet config")
		}
	}

	if env != "" {
		v.SetConfigName("wallet." + env)
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, werr.Wrap(err, "merge "+env+" config")
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// Unmarshal only sees keys viper already knows, so every tunable is
	// bound to its environment variable explicitly.
	for _, key := range []string{
		"pruning.tombstone_max_age", "pruning.tombstone_max_count",
		"pruning.archive_max_count", "pruning.fork_max_count",
		"poller.tick_interval", "poller.quick_timeout", "poller.max_attempts",
		"finalization.max_attempts", "sync.debounce_interval",
		"payment_request.default_timeout",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, werr.Wrap(err, "bind env "+key)
		}
	}
	if err := v.Unmarshal(&c); err != nil {
		return nil, werr.Wrap(err, "unmarshal wallet config")
	}
	return &c, nil
}
