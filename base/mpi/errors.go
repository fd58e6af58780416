// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpi

import (
	"fmt"

	"cogentcore.org/hpc/base/errors"
)

var (
	// ErrNotInitialized is returned by Finalize when MPI is not on.
	ErrNotInitialized = errors.New("mpi: not initialized")

	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("mpi: already initialized")

	// ErrNullComm is returned when deriving a communicator
	// from a null communicator.
	ErrNullComm = errors.New("mpi: null communicator")

	// ErrTopology is returned when the neighbor lists declared
	// to [NewGraphComm] are inconsistent across ranks.
	ErrTopology = errors.New("mpi: inconsistent graph topology")

	// ErrCount is returned when a rank receives a different number
	// of elements than it expected.
	ErrCount = errors.New("mpi: element count mismatch")

	// ErrCanceled is the error of a [Request] that was canceled.
	ErrCanceled = errors.New("mpi: request canceled")
)

// Error is a failure of a communication operation reported by the
// transport, identifying the operation and the context involved.
type Error struct {

	// Op is the name of the failed operation.
	Op string

	// Context is the identity of the communication context.
	Context string

	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("mpi: %s on context %s: %v", e.Op, e.Context, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
