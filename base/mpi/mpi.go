// Copyright (c) 2020, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mpi is a process communication layer for distributed
// numerical computation, in the style of MPI, written in pure Go.
//
// A [Comm] is a shared handle to a communication context spanning a
// group of ranks. Collectives are generic functions: [Broadcast],
// [BroadcastFrom], [Gather] and [AllGather] move any type registered in
// the type registry (see [Register]), and [BroadcastShaped] and
// [GatherShaped] move structured containers such as [Matrix], [Vector],
// and gonum dense matrices, exchanging the shape before the data.
// A [GraphComm] restricts communication to a declared directed
// neighbor topology, with [NeighborAllGather] and the non-blocking
// [NeighborIAllGatherV], which returns a [Request].
//
// A program calls [Init] once, uses [World] and communicators derived
// from it, and calls [Finalize] at the end. Under the mpirun launcher,
// Init connects to the other processes over websockets; otherwise it
// starts a one-process world. [Spawn] runs several ranks as goroutines
// in one process, which is how the tests run.
//
// All ranks of a context must issue matching collective calls in the
// same order. Precondition violations (root out of range, mismatched
// element types, etc) panic; failures of the underlying transport are
// returned as *[Error].
package mpi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"cogentcore.org/hpc/base/errors"
	"cogentcore.org/hpc/base/mpi/transport"
)

// set LogErrors to control whether MPI errors are automatically logged or not
var LogErrors = true

const (
	// Root is the rank 0 node -- it is more semantic to use this
	Root int = 0

	// Undefined is the color passed to [Comm.Split] by ranks that
	// do not join any of the resulting groups.
	Undefined int = -1
)

// rt is the process-wide communication runtime.
var rt struct {
	sync.Mutex
	tr        transport.Transport
	world     *handle
	on        bool
	finalized bool

	// finalizing is set while Finalize waits for the other procs.
	finalizing bool
}

// Init initialises MPI. If the process was started by mpirun (see
// [ConfigFromEnv]) it joins the websocket world described by the
// environment; otherwise it starts a world of one process.
func Init() error {
	cfg, ok, err := ConfigFromEnv()
	if err != nil {
		return errors.Log(err)
	}
	if !ok {
		return InitTransport(transport.NewLocal(1)[0])
	}
	return InitConfig(cfg)
}

// InitConfig initialises MPI by joining the websocket world
// described by cfg. It blocks until all ranks are connected.
func InitConfig(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if IsOn() {
		return ErrAlreadyInitialized
	}
	opts := transport.Options{Rank: cfg.Rank, Addrs: cfg.Addrs, Path: cfg.Path, Timeout: cfg.TimeoutDuration()}
	tr, err := transport.NewWebSocket(context.Background(), opts, nil)
	if err != nil {
		return errors.Log(fmt.Errorf("mpi.Init: %w", err))
	}
	if err := InitTransport(tr); err != nil {
		tr.Close()
		return err
	}
	return nil
}

// InitTransport initialises MPI over the given transport,
// which then belongs to the runtime until [Finalize].
func InitTransport(tr transport.Transport) error {
	rt.Lock()
	defer rt.Unlock()
	if rt.on {
		return ErrAlreadyInitialized
	}
	rt.tr = tr
	rt.world = newWorldHandle(tr)
	rt.on = true
	rt.finalized = false
	slog.Debug("mpi: initialized", "rank", tr.Rank(), "size", tr.Size())
	return nil
}

// Finalize finalises MPI (frees resources, shuts it down).
// It is collective over the world: all ranks synchronize
// before the transport is closed.
func Finalize() error {
	rt.Lock()
	if !rt.on || rt.finalizing {
		rt.Unlock()
		return ErrNotInitialized
	}
	rt.finalizing = true
	tr := rt.tr
	world := &Comm{h: rt.world}
	rt.Unlock()

	// the barrier may wait on other procs: queries must not block on it
	err := world.Barrier()
	err = errors.Join(err, tr.Close())
	slog.Debug("mpi: finalized", "rank", tr.Rank())

	rt.Lock()
	defer rt.Unlock()
	rt.tr = nil
	rt.world = nil
	rt.on = false
	rt.finalizing = false
	rt.finalized = true
	return err
}

// IsOn tells whether MPI is on or not: Init has been called
// and Finalize has not. It is always safe to call.
func IsOn() bool {
	rt.Lock()
	defer rt.Unlock()
	return rt.on
}

// Finalized reports whether Finalize has completed.
func Finalized() bool {
	rt.Lock()
	defer rt.Unlock()
	return rt.finalized
}

// WorldRank returns this proc's rank/ID within the World communicator.
// Returns 0 if not yet initialized, so it is always safe to call.
func WorldRank() (rank int) {
	rt.Lock()
	defer rt.Unlock()
	if !rt.on {
		return 0
	}
	return rt.tr.Rank()
}

// WorldSize returns the number of procs in the World communicator.
// Returns 1 if not yet initialized, so it is always safe to call.
func WorldSize() (size int) {
	rt.Lock()
	defer rt.Unlock()
	if !rt.on {
		return 1
	}
	return rt.tr.Size()
}

// World returns a communicator for the world context of the runtime.
// It returns a null communicator if MPI is not on.
func World() *Comm {
	rt.Lock()
	defer rt.Unlock()
	if !rt.on {
		return &Comm{}
	}
	return &Comm{h: rt.world.retain()}
}
