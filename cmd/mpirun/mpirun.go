// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"cogentcore.org/hpc/base/errors"
	"cogentcore.org/hpc/base/exec"
	"cogentcore.org/hpc/base/mpi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// options are the settings of a run.
type options struct {

	// NP is the number of processes.
	NP int

	// Host is the host that all ranks listen on.
	Host string

	// BasePort is the port of rank 0; rank i listens on BasePort+i.
	// If it is 0, free ports are picked.
	BasePort int

	// Timeout bounds connecting the ranks to each other.
	Timeout time.Duration

	// Config is an optional config file with the world addresses,
	// which takes precedence over NP, Host and BasePort.
	Config string

	// Cmd is the command to run, as a shell-style string.
	Cmd string

	// Args is the command to run, used when Cmd is empty.
	Args []string
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "mpirun [flags] [--] program [args...]",
		Short: "Run a program as several connected processes",
		Long: `mpirun starts several copies of a program that use the
cogentcore.org/hpc/base/mpi package, connected into one world.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setLogLevel(v.GetString("log-level"), cmd.ErrOrStderr()); err != nil {
				return err
			}
			opts := &options{
				NP:       v.GetInt("np"),
				Host:     v.GetString("host"),
				BasePort: v.GetInt("base-port"),
				Timeout:  v.GetDuration("timeout"),
				Config:   v.GetString("config"),
				Cmd:      v.GetString("cmd"),
				Args:     args,
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f := cmd.Flags()
	f.IntP("np", "n", 1, "number of processes")
	f.String("host", "127.0.0.1", "host the processes listen on")
	f.Int("base-port", 0, "port of rank 0, with rank i on base-port+i (0 picks free ports)")
	f.Duration("timeout", 30*time.Second, "timeout for connecting the processes")
	f.String("config", "", "world config file (.toml or .yaml) giving the addresses")
	f.String("cmd", "", "command to run, as a shell-style string")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	errors.Log(v.BindPFlags(f))
	v.SetEnvPrefix("GOMPI")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return cmd
}

func setLogLevel(s string, w io.Writer) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return fmt.Errorf("mpirun: log level: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
	return nil
}

// addrs returns the addresses of the ranks.
func (o *options) addrs() ([]string, error) {
	if o.NP < 1 {
		return nil, fmt.Errorf("mpirun: need at least one process, got %d", o.NP)
	}
	addrs := make([]string, o.NP)
	if o.BasePort > 0 {
		for i := range addrs {
			addrs[i] = net.JoinHostPort(o.Host, strconv.Itoa(o.BasePort+i))
		}
		return addrs, nil
	}
	// hold all listeners open until every port is chosen
	lns := make([]net.Listener, o.NP)
	defer func() {
		for _, ln := range lns {
			if ln != nil {
				ln.Close()
			}
		}
	}()
	for i := range lns {
		ln, err := net.Listen("tcp", net.JoinHostPort(o.Host, "0"))
		if err != nil {
			return nil, fmt.Errorf("mpirun: picking a port: %w", err)
		}
		lns[i] = ln
		addrs[i] = ln.Addr().String()
	}
	return addrs, nil
}

// world returns the config of each rank.
func (o *options) world() ([]*mpi.Config, error) {
	var base *mpi.Config
	if o.Config != "" {
		c, err := mpi.OpenConfig(o.Config)
		if err != nil {
			return nil, err
		}
		base = c
	} else {
		addrs, err := o.addrs()
		if err != nil {
			return nil, err
		}
		base = &mpi.Config{Addrs: addrs}
	}
	if base.Timeout == "" && o.Timeout > 0 {
		base.Timeout = o.Timeout.String()
	}
	cfgs := make([]*mpi.Config, base.Size())
	for i := range cfgs {
		c := *base
		c.Rank = i
		if err := c.Validate(); err != nil {
			return nil, err
		}
		cfgs[i] = &c
	}
	return cfgs, nil
}

func (o *options) command() ([]string, error) {
	if o.Cmd != "" {
		return exec.Args(o.Cmd)
	}
	if len(o.Args) == 0 {
		return nil, fmt.Errorf("mpirun: no program given")
	}
	return o.Args, nil
}

// run starts one process per rank and waits for all of them.
// If one fails, the others are killed.
func run(ctx context.Context, o *options, stdout, stderr io.Writer) error {
	argv, err := o.command()
	if err != nil {
		return err
	}
	cfgs, err := o.world()
	if err != nil {
		return err
	}
	slog.Info("mpirun: starting", "np", len(cfgs), "cmd", strings.Join(argv, " "))

	out := newPrefixer(stdout, len(cfgs))
	errOut := newPrefixer(stderr, len(cfgs))
	g, ctx := errgroup.WithContext(ctx)
	for _, cfg := range cfgs {
		ec := &exec.Config{}
		ec.Out = out.writer(cfg.Rank)
		ec.Err = errOut.writer(cfg.Rank)
		for _, kv := range cfg.Environ() {
			k, v, _ := strings.Cut(kv, "=")
			ec.SetEnv(k, v)
		}
		g.Go(func() error {
			defer exec.CloseWriter(ec.Out)
			defer exec.CloseWriter(ec.Err)
			if err := ec.Run(ctx, argv[0], argv[1:]...); err != nil {
				return fmt.Errorf("rank %d: %w", cfg.Rank, err)
			}
			slog.Debug("mpirun: rank done", "rank", cfg.Rank)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("mpirun: failed", "err", err)
		return err
	}
	return nil
}
