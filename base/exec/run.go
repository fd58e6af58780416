// Copyright (c) 2023, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Adapted in part from: https://github.com/magefile/mage
// Copyright presumably by Nate Finch, primary contributor
// Apache License, Version 2.0, January 2004

package exec

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
)

// Args returns a string parsed into separate args
// that can be passed into run commands.
func Args(str string) ([]string, error) {
	args, err := shellwords.Parse(str)
	if err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("command %q was not parsed correctly into content", str)
	}
	return args, nil
}

// Run runs the given command using the given configuration information
// and arguments, waiting for it to complete before returning.
func (c *Config) Run(ctx context.Context, cmd string, args ...string) error {
	cm, err := c.Start(ctx, cmd, args...)
	if err != nil {
		return err
	}
	if err := cm.Wait(); err != nil {
		return fmt.Errorf("exec: %s: %w", cmdString(cmd, args), err)
	}
	return nil
}

// RunSh runs given full command string with args formatted
// as in a standard shell command
func (c *Config) RunSh(ctx context.Context, cstr string) error {
	args, err := Args(cstr)
	if err != nil {
		return err
	}
	return c.Run(ctx, args[0], args[1:]...)
}

// Output runs the command and returns the text from stdout.
func (c *Config) Output(ctx context.Context, cmd string, args ...string) (string, error) {
	oldStdout := c.Out
	// need to use buf to capture output
	buf := &bytes.Buffer{}
	c.Out = buf
	err := c.Run(ctx, cmd, args...)
	c.Out = oldStdout
	if c.Out != nil {
		c.Out.Write(buf.Bytes())
	}
	return strings.TrimSuffix(buf.String(), "\n"), err
}
