/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttler

import (
	"fmt"
	"time"

	"github.com/acronis/go-hostthrottle/config"
)

const cfgDefaultKeyPrefix = "throttle"

const (
	cfgKeyCount       = "count"
	cfgKeyDuration    = "duration"
	cfgKeyMaxKeys     = "maxKeys"
	cfgKeyStoragePath = "storagePath"
)

// Config represents a set of configuration parameters for Throttler.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// Count is the maximum number of grants per key within Duration.
	Count int `mapstructure:"count" yaml:"count" json:"count"`

	// Duration is the length of the trailing throttling window.
	Duration config.TimeDuration `mapstructure:"duration" yaml:"duration" json:"duration"`

	// MaxKeys is the number of tracked keys after which the least recently granted ones are evicted.
	MaxKeys int `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`

	// StoragePath is a directory where granted accesses are persisted. Empty means in-memory only.
	StoragePath string `mapstructure:"storagePath" yaml:"storagePath" json:"storagePath"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	cfg := NewConfig(options...)
	cfg.Count = DefaultCount
	cfg.Duration = config.TimeDuration(DefaultDuration)
	cfg.MaxKeys = DefaultMaxKeys
	return cfg
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for Throttler in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyCount, DefaultCount)
	dp.SetDefault(cfgKeyDuration, DefaultDuration)
	dp.SetDefault(cfgKeyMaxKeys, DefaultMaxKeys)
	dp.SetDefault(cfgKeyStoragePath, "")
}

// Set sets Throttler configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Count, err = dp.GetInt(cfgKeyCount); err != nil {
		return err
	}
	if c.Count <= 0 {
		return dp.WrapKeyErr(cfgKeyCount, fmt.Errorf("must be positive"))
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyDuration); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyDuration, fmt.Errorf("must be positive"))
	}
	c.Duration = config.TimeDuration(dur)

	if c.MaxKeys, err = dp.GetInt(cfgKeyMaxKeys); err != nil {
		return err
	}
	if c.MaxKeys <= 0 {
		return dp.WrapKeyErr(cfgKeyMaxKeys, fmt.Errorf("must be positive"))
	}

	if c.StoragePath, err = dp.GetString(cfgKeyStoragePath); err != nil {
		return err
	}

	return nil
}
