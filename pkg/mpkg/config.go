// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpkg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/yeetrun/mpkg/pkg/client"
)

const (
	// DefaultRegistry is the public registry.
	DefaultRegistry = "http://mpkg.idiotstudios.co.za/api"
	// DefaultLoaderVersion is the loader release init downloads.
	DefaultLoaderVersion = "latest"
)

// Config is the client configuration. It is read from
// ~/.mpkg/config.toml and overridden by MPKG_* environment variables.
type Config struct {
	Registry      string   `toml:"registry,omitempty"`
	Timeout       Duration `toml:"timeout,omitempty"`
	LoaderVersion string   `toml:"loader_version,omitempty"`
	User          string   `toml:"user,omitempty"`
	Password      string   `toml:"password,omitempty"`
}

// Duration is a time.Duration written as "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DefaultConfigPath returns ~/.mpkg/config.toml, or $MPKG_CONFIG when set.
func DefaultConfigPath() string {
	if p := os.Getenv("MPKG_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".mpkg", "config.toml")
}

// LoadConfig reads path if it exists, applies the environment and fills in
// defaults. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg, err := readConfigFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.setDefaults()
	return cfg, nil
}

// readConfigFile decodes path without applying the environment. A missing
// file is an empty config.
func readConfigFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("MPKG_REGISTRY"); v != "" {
		c.Registry = v
	}
	if v := os.Getenv("MPKG_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid MPKG_TIMEOUT %q: %w", v, err)
		}
		c.Timeout.Duration = d
	}
	if v := os.Getenv("MPKG_USER"); v != "" {
		c.User = v
	}
	if v := os.Getenv("MPKG_PASSWORD"); v != "" {
		c.Password = v
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Registry == "" {
		c.Registry = DefaultRegistry
	}
	c.Registry = strings.TrimRight(c.Registry, "/")
	if c.Timeout.Duration <= 0 {
		c.Timeout.Duration = client.DefaultTimeout
	}
	if c.LoaderVersion == "" {
		c.LoaderVersion = DefaultLoaderVersion
	}
}

// SaveConfig writes cfg to path, creating parent directories.
func SaveConfig(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
