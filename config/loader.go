/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import "io"

// Loader fills configuration objects from a DataProvider.
// Defaults of all objects are set before any of them is filled.
type Loader struct {
	DataProvider DataProvider
}

// NewDefaultLoader creates a Loader over ViperAdapter that also reads environment variables with the prefix.
func NewDefaultLoader(envVarsPrefix string) *Loader {
	va := NewViperAdapter()
	va.UseEnvVars(envVarsPrefix)
	return NewLoader(va)
}

// NewLoader creates a new Loader.
func NewLoader(dp DataProvider) *Loader {
	return &Loader{DataProvider: dp}
}

// LoadFromFile reads configuration data from the file and fills configuration objects.
func (l *Loader) LoadFromFile(path string, dataType DataType, cfg Config, cfgs ...Config) error {
	if err := l.DataProvider.SetFromFile(path, dataType); err != nil {
		return err
	}
	return l.load(cfg, cfgs...)
}

// LoadFromReader reads configuration data from the reader and fills configuration objects.
func (l *Loader) LoadFromReader(reader io.Reader, dataType DataType, cfg Config, cfgs ...Config) error {
	if err := l.DataProvider.SetFromReader(reader, dataType); err != nil {
		return err
	}
	return l.load(cfg, cfgs...)
}

func (l *Loader) load(cfg Config, cfgs ...Config) error {
	all := append([]Config{cfg}, cfgs...)
	providers := make([]DataProvider, len(all))
	for i, c := range all {
		providers[i] = l.providerFor(c)
		c.SetProviderDefaults(providers[i])
	}
	for i, c := range all {
		if err := c.Set(providers[i]); err != nil {
			return err
		}
	}
	return nil
}

// providerFor scopes the data provider with the key prefix of cfg if it has one.
func (l *Loader) providerFor(cfg Config) DataProvider {
	if kp, ok := cfg.(KeyPrefixProvider); ok && kp.KeyPrefix() != "" {
		return NewKeyPrefixedDataProvider(l.DataProvider, kp.KeyPrefix())
	}
	return l.DataProvider
}
