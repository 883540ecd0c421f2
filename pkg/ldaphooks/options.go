package ldaphooks

import (
	"fmt"

	"github.com/codysoyland/ldaphooks/pkg/config"
	"github.com/codysoyland/ldaphooks/pkg/hook"
)

// WithBindScript sets the helper notified after successful binds
func WithBindScript(path string) Option {
	return func(c *Config) error {
		c.BindScriptPath = path
		return nil
	}
}

// WithPasswdScript sets the helper consulted on password modify requests
func WithPasswdScript(path string) Option {
	return func(c *Config) error {
		c.PasswdScriptPath = path
		return nil
	}
}

// WithEntryStore sets the store used to fetch stored credentials
func WithEntryStore(store hook.EntryStore) Option {
	return func(c *Config) error {
		c.Store = store
		return nil
	}
}

// WithVerbose enables or disables verbose output
func WithVerbose(v bool) Option {
	return func(c *Config) error {
		c.Verbose = v
		return nil
	}
}

// WithConfigFile loads helper paths and verbosity from a YAML file.
// Options applied after it override the file.
func WithConfigFile(path string) Option {
	return func(c *Config) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
		c.BindScriptPath = cfg.BindScriptPath
		c.PasswdScriptPath = cfg.PasswdScriptPath
		c.Verbose = c.Verbose || cfg.Verbose
		return nil
	}
}
