package ldaphooks

import (
	"github.com/codysoyland/ldaphooks/pkg/hook"
	"github.com/codysoyland/ldaphooks/pkg/interceptor"
)

// Overlay is one hook instance attached to a protected directory.
type Overlay struct {
	config *Config
	state  *interceptor.State
	bind   *interceptor.Bind
	passwd *interceptor.Passwd
	closed bool
}

// Config holds all configuration options
type Config struct {
	Verbose bool
	// BindScriptPath is the helper notified after each successful bind.
	// Empty disables bind notifications.
	BindScriptPath string
	// PasswdScriptPath is the helper consulted on password modify
	// requests. Empty disables it.
	PasswdScriptPath string
	// Store is used to look up an entry's stored credential for the
	// password helper. Optional.
	Store hook.EntryStore
}

// Option represents a functional option for configuration
type Option func(*Config) error
