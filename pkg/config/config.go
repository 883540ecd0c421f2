// Package config loads the helper paths an overlay instance uses from a
// YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration of one overlay instance.
// An empty path disables the hook for that event kind.
type Config struct {
	BindScriptPath   string `yaml:"bind_script_path,omitempty"`
	PasswdScriptPath string `yaml:"passwd_script_path,omitempty"`
	Verbose          bool   `yaml:"verbose,omitempty"`
}

// Parse parses YAML data into a Config, rejecting unknown fields.
// Empty input yields a zero Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: decode YAML: %w", err)
	}
	return &cfg, nil
}

// Validate checks that every configured helper path is absolute and
// names an executable regular file.
func Validate(cfg *Config) error {
	if err := validateScript(cfg.BindScriptPath, "bind_script_path"); err != nil {
		return err
	}
	if err := validateScript(cfg.PasswdScriptPath, "passwd_script_path"); err != nil {
		return err
	}
	return nil
}

func validateScript(path, field string) error {
	if path == "" {
		return nil
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%s: must be an absolute path, got %q", field, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: %q is not a regular file", field, path)
	}
	if info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("%s: %q is not executable", field, path)
	}
	return nil
}

// Load reads, parses and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}
