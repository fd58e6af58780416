// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpi

import (
	"fmt"
	"sync"

	"cogentcore.org/hpc/base/mpi/transport"
	"github.com/sourcegraph/conc/pool"
)

// Spawn runs fn on n ranks, each in its own goroutine, connected by an
// in-process transport, and waits for all of them. If a rank fails or
// panics, the transport is shut down so that the other ranks stop
// waiting for it; Spawn then returns the first error, or re-panics.
func Spawn(n int, fn func(world *Comm) error) error {
	if n < 1 {
		panic(fmt.Sprintf("mpi.Spawn: %d ranks", n))
	}
	trs := transport.NewLocal(n)
	var (
		once  sync.Once
		cause error
	)
	abort := func(err error) {
		once.Do(func() {
			cause = err
			for _, tr := range trs {
				tr.Close()
			}
		})
	}

	p := pool.New().WithErrors()
	for r := range n {
		p.Go(func() (err error) {
			defer func() {
				if v := recover(); v != nil {
					abort(fmt.Errorf("rank %d panicked: %v", r, v))
					panic(v)
				}
			}()
			world := NewWorld(trs[r])
			defer world.Free()
			if err = fn(world); err != nil {
				err = fmt.Errorf("rank %d: %w", r, err)
				abort(err)
			}
			return err
		})
	}
	err := p.Wait()
	abort(nil)
	if cause != nil {
		return cause
	}
	return err
}
