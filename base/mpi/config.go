// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpi

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Environment variables read by [ConfigFromEnv] and set by mpirun.
const (
	EnvRank    = "GOMPI_RANK"
	EnvAddrs   = "GOMPI_ADDRS"
	EnvTimeout = "GOMPI_TIMEOUT"
	EnvPath    = "GOMPI_PATH"
	EnvConfig  = "GOMPI_CONFIG"
)

// Config describes the websocket world a process joins.
type Config struct {

	// Rank is the world rank of this process.
	Rank int `toml:"rank" yaml:"rank"`

	// Addrs are the host:port addresses of all ranks, indexed by rank.
	Addrs []string `toml:"addrs" yaml:"addrs"`

	// Path is the HTTP path of the websocket endpoint (default /mpi).
	Path string `toml:"path,omitempty" yaml:"path,omitempty"`

	// Timeout bounds connecting to the other ranks,
	// as a duration such as 30s (default 30s).
	Timeout string `toml:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Size returns the number of ranks in the world.
func (c *Config) Size() int { return len(c.Addrs) }

// Validate returns an error if the config cannot describe a world.
func (c *Config) Validate() error {
	if len(c.Addrs) == 0 {
		return fmt.Errorf("mpi.Config: no addresses")
	}
	if c.Rank < 0 || c.Rank >= len(c.Addrs) {
		return fmt.Errorf("mpi.Config: rank %d out of range [0, %d)", c.Rank, len(c.Addrs))
	}
	for i, a := range c.Addrs {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("mpi.Config: empty address for rank %d", i)
		}
	}
	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			return fmt.Errorf("mpi.Config: timeout: %w", err)
		}
	}
	return nil
}

// TimeoutDuration returns the parsed Timeout, or 0 if it is
// unset or invalid.
func (c *Config) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// Environ returns the environment variables that make
// [ConfigFromEnv] return c.
func (c *Config) Environ() []string {
	env := []string{
		EnvRank + "=" + strconv.Itoa(c.Rank),
		EnvAddrs + "=" + strings.Join(c.Addrs, ","),
	}
	if c.Timeout != "" {
		env = append(env, EnvTimeout+"="+c.Timeout)
	}
	if c.Path != "" {
		env = append(env, EnvPath+"="+c.Path)
	}
	return env
}

// OpenConfig reads a config file, in TOML (.toml) or YAML (.yaml, .yml)
// according to its extension. A leading ~ is expanded to the home directory.
func OpenConfig(path string) (*Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := &Config{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(b, c)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, c)
	default:
		return nil, fmt.Errorf("mpi.OpenConfig: unsupported config file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("mpi.OpenConfig %s: %w", path, err)
	}
	return c, nil
}

// ConfigFromEnv returns the config given by the environment, and
// false if the environment does not describe a world. The config is
// read from the file named by GOMPI_CONFIG if set, and otherwise from
// GOMPI_ADDRS (comma separated), GOMPI_TIMEOUT and GOMPI_PATH.
// GOMPI_RANK sets the rank in both cases.
func ConfigFromEnv() (*Config, bool, error) {
	c := &Config{}
	if file := os.Getenv(EnvConfig); file != "" {
		fc, err := OpenConfig(file)
		if err != nil {
			return nil, false, err
		}
		c = fc
	} else {
		addrs := os.Getenv(EnvAddrs)
		if addrs == "" {
			return nil, false, nil
		}
		for a := range strings.SplitSeq(addrs, ",") {
			c.Addrs = append(c.Addrs, strings.TrimSpace(a))
		}
		c.Timeout = os.Getenv(EnvTimeout)
		c.Path = os.Getenv(EnvPath)
	}
	if rs := os.Getenv(EnvRank); rs != "" {
		r, err := strconv.Atoi(rs)
		if err != nil {
			return nil, false, fmt.Errorf("mpi: %s: %w", EnvRank, err)
		}
		c.Rank = r
	}
	return c, true, c.Validate()
}
