// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgs(t *testing.T) {
	args, err := Args(`prog -n 3 "a b" 'c'`)
	require.NoError(t, err)
	assert.Equal(t, []string{"prog", "-n", "3", "a b", "c"}, args)

	_, err = Args("  ")
	assert.Error(t, err)
	_, err = Args(`prog "open`)
	assert.Error(t, err)
}

func TestEnviron(t *testing.T) {
	c := &Config{}
	c.SetEnv("B_VAR", "2").SetEnv("A_VAR", "1")
	env := c.Environ()
	assert.Equal(t, []string{"A_VAR=1", "B_VAR=2"}, env[len(env)-2:])
}

// TestHelperEcho is run as a subprocess by the tests below.
func TestHelperEcho(t *testing.T) {
	if os.Getenv("EXEC_TEST_HELPER") != "1" {
		t.Skip("helper process")
	}
	os.Stdout.WriteString(os.Getenv("EXEC_TEST_VALUE") + "\n")
	os.Exit(0)
}

func TestOutput(t *testing.T) {
	if runtime.GOOS == "js" {
		t.Skip("no processes")
	}
	c := &Config{}
	c.SetEnv("EXEC_TEST_HELPER", "1").SetEnv("EXEC_TEST_VALUE", "hello")
	out, err := c.Output(context.Background(), os.Args[0], "-test.run=^TestHelperEcho$")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	err = c.Run(context.Background(), "this-command-does-not-exist-anywhere")
	assert.Error(t, err)
}
