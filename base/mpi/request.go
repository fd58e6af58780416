// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpi

import (
	"context"
	"slices"
	"sync"
)

// Request is the handle of one outstanding non-blocking operation.
// It is in flight until the operation completes, successfully or not,
// or is canceled. Until then the receive buffer of the operation must
// not be touched.
type Request struct {
	done chan struct{}
	once sync.Once
	err  error

	// pnc is a panic raised by the operation, re-raised by Wait.
	pnc any

	cancel context.CancelFunc

	n      int
	counts []int
}

func newRequest(cancel context.CancelFunc, counts []int) *Request {
	r := &Request{done: make(chan struct{}), cancel: cancel, counts: counts}
	for _, c := range counts {
		r.n += c
	}
	return r
}

// NewCompletedRequest returns a request that has already completed
// with the given error, for operations with nothing left to do.
func NewCompletedRequest(err error) *Request {
	r := newRequest(nil, nil)
	r.complete(err)
	return r
}

// complete ends the request. Only the first call has an effect.
func (r *Request) complete(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Done reports whether the request has completed.
func (r *Request) Done() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Test reports whether the request has completed and,
// if so, its error. It never blocks.
func (r *Request) Test() (bool, error) {
	if !r.Done() {
		return false, nil
	}
	return true, r.Err()
}

// Wait blocks until the request completes and returns its error.
func (r *Request) Wait() error {
	<-r.done
	return r.Err()
}

// Err returns the error of a completed request,
// and nil for a request in flight.
func (r *Request) Err() error {
	if !r.Done() {
		return nil
	}
	if r.pnc != nil {
		panic(r.pnc)
	}
	return r.err
}

// Cancel stops a request in flight. It returns once the operation can
// no longer write into its receive buffer; the request then completes
// with [ErrCanceled] unless it had already completed.
func (r *Request) Cancel() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

// Len returns the total number of elements the request receives.
func (r *Request) Len() int { return r.n }

// Counts returns the number of elements received from each source.
func (r *Request) Counts() []int { return slices.Clone(r.counts) }
