// Package config loads the optional TOML file shared by bridgehost and bridgeworker.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/guseggert/cmdbridge/protocol"
)

type Config struct {
	Worker WorkerConfig `toml:"worker"`
	Host   HostConfig   `toml:"host"`
	Log    LogConfig    `toml:"log"`
}

type WorkerConfig struct {
	// Path is the worker executable the host spawns. Empty means search for bridgeworker.
	Path    string   `toml:"path"`
	Args    []string `toml:"args"`
	Profile string   `toml:"profile"`
	// Connect is the base URL of a remote worker. It excludes Path.
	Connect string `toml:"connect"`
	// TLSDir holds the mTLS material for remote sessions, see package certs.
	TLSDir string `toml:"tls_dir"`
}

type HostConfig struct {
	Prompt string `toml:"prompt"`
	Color  string `toml:"color"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

func Default() Config {
	return Config{
		Worker: WorkerConfig{Profile: string(protocol.ProfileStructured)},
		Host:   HostConfig{Prompt: "> ", Color: "auto"},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. Keys that are not part of Config are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("loading config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("loading config %s: unknown keys [%s]", path, strings.Join(keys, ","))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := protocol.ParseProfile(c.Worker.Profile); err != nil {
		errs = append(errs, err)
	}
	if c.Worker.Path != "" && c.Worker.Connect != "" {
		errs = append(errs, errors.New("worker path and connect are mutually exclusive"))
	}
	switch c.Host.Color {
	case "", "auto", "always", "never":
	default:
		errs = append(errs, fmt.Errorf("unknown color mode %q, expected one of [auto,always,never]", c.Host.Color))
	}
	return errors.Join(errs...)
}
