// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package exec runs external commands, as used by the mpirun launcher
// to start the processes of a world.
package exec

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
)

// Cmd is a type alias for [exec.Cmd].
type Cmd = exec.Cmd

// Config contains the configuration information that
// controls the behavior of the commands it runs.
type Config struct {
	StdIO

	// Dir is the working directory of commands; empty means
	// the current directory.
	Dir string

	// Env holds environment variables added to the environment
	// of this process for commands.
	Env map[string]string
}

// SetEnv sets an environment variable for commands.
func (c *Config) SetEnv(key, value string) *Config {
	if c.Env == nil {
		c.Env = map[string]string{}
	}
	c.Env[key] = value
	return c
}

// Environ returns the full environment of commands.
func (c *Config) Environ() []string {
	env := os.Environ()
	for _, k := range slices.Sorted(maps.Keys(c.Env)) {
		env = append(env, k+"="+c.Env[k])
	}
	return env
}

// Command returns the command for cmd and args, configured with c.
// It is killed when ctx is done.
func (c *Config) Command(ctx context.Context, cmd string, args ...string) *Cmd {
	cm := exec.CommandContext(ctx, cmd, args...)
	cm.Dir = c.Dir
	cm.Env = c.Environ()
	cm.Stdout = c.Out
	cm.Stderr = c.Err
	cm.Stdin = c.In
	return cm
}

// Start starts the given command using the given
// configuration information and arguments,
// just starting the command but not waiting for it to finish.
// The returned command should be waited for.
func (c *Config) Start(ctx context.Context, cmd string, args ...string) (*Cmd, error) {
	cm := c.Command(ctx, cmd, args...)
	slog.Debug("exec: start", "cmd", cmdString(cmd, args), "dir", c.Dir)
	if err := cm.Start(); err != nil {
		return nil, fmt.Errorf("exec: starting %s: %w", cmdString(cmd, args), err)
	}
	return cm, nil
}

func cmdString(cmd string, args []string) string {
	return strings.Join(append([]string{cmd}, args...), " ")
}
