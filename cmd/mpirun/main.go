// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mpirun starts several copies of a program connected into one
// world of the cogentcore.org/hpc/base/mpi package:
//
//	mpirun -n 4 ./program args...
//	mpirun -n 4 --cmd "go run ./examples/neighbors"
//
// Each copy gets its rank and the addresses of all ranks in GOMPI_*
// environment variables, which [mpi.Init] reads. The output of each
// copy is prefixed by its rank.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
