// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpi

import (
	"fmt"

	"cogentcore.org/hpc/base/slicesx"
)

// Shaped is a structured container of T values with an n-dimensional
// shape, stored as one flat row-major buffer. Collectives on Shaped
// values send the shape first, so that receivers can allocate,
// and then the data.
type Shaped[T any] interface {

	// Shape returns the size of each dimension.
	Shape() []int

	// SetShape reallocates the container for the given shape,
	// so that Values has the product of the sizes elements.
	SetShape(shape ...int)

	// Values returns the flat row-major buffer.
	Values() []T
}

// BroadcastShaped sends the shape and values of s from the root to all
// other procs, which reshape their s to match and receive the values.
// It must be called by all members of cm with the same root.
func BroadcastShaped[T any](cm *Comm, s Shaped[T], root int) error {
	const fn = "mpi.BroadcastShaped"
	dt := MustTypeOf[T]()
	checkRoot(fn, root, cm.Size())
	if cm.IsNull() {
		return nil
	}
	h := cm.h
	ity := MustTypeOf[int64]()

	stag := h.tag(opShape)
	var sb []byte
	if h.rank == root {
		sb = encode(ity, shapeToInt64(s.Shape()))
	}
	sb, err := h.bcast(stag, sb, root)
	if err != nil {
		return h.fail("BroadcastShaped", err)
	}
	if h.rank != root {
		shape, err := decode[int64](ity, sb, fn)
		if err != nil {
			return h.fail("BroadcastShaped", err)
		}
		s.SetShape(shapeFromInt64(shape)...)
	}

	dtag := h.tag(opBroadcast)
	var db []byte
	if h.rank == root {
		db = encode(dt, s.Values())
	}
	db, err = h.bcast(dtag, db, root)
	if err != nil {
		return h.fail("BroadcastShaped", err)
	}
	if h.rank == root {
		return nil
	}
	return h.fail("BroadcastShaped", decodeInto(dt, db, s.Values(), fn))
}

// GatherShaped collects s from every proc on the root, which gets a
// slice with a copy of the container of rank i at index i. The root
// makes each result with alloc and then reshapes it. Other procs get
// nil. It must be called by all members of cm with the same root.
func GatherShaped[T any, S Shaped[T]](cm *Comm, s S, root int, alloc func() S) ([]S, error) {
	const fn = "mpi.GatherShaped"
	dt := MustTypeOf[T]()
	checkRoot(fn, root, cm.Size())
	if cm.IsNull() {
		return []S{copyShaped[T](s, alloc)}, nil
	}
	h := cm.h
	ity := MustTypeOf[int64]()

	shapes, err := h.gather(h.tag(opShape), encode(ity, shapeToInt64(s.Shape())), root)
	if err != nil {
		return nil, h.fail("GatherShaped", err)
	}
	values, err := h.gather(h.tag(opGather), encode(dt, s.Values()), root)
	if err != nil {
		return nil, h.fail("GatherShaped", err)
	}
	if h.rank != root {
		return nil, nil
	}
	out := make([]S, len(values))
	for r := range out {
		shape, err := decode[int64](ity, shapes[r], fn)
		if err != nil {
			return nil, h.fail("GatherShaped", err)
		}
		out[r] = alloc()
		out[r].SetShape(shapeFromInt64(shape)...)
		if err := decodeInto(dt, values[r], out[r].Values(), fn); err != nil {
			return nil, h.fail("GatherShaped", err)
		}
	}
	return out, nil
}

func copyShaped[T any, S Shaped[T]](s S, alloc func() S) S {
	c := alloc()
	c.SetShape(s.Shape()...)
	copy(c.Values(), s.Values())
	return c
}

func shapeToInt64(shape []int) []int64 {
	s := make([]int64, len(shape))
	for i, n := range shape {
		s[i] = int64(n)
	}
	return s
}

func shapeFromInt64(shape []int64) []int {
	s := make([]int, len(shape))
	for i, n := range shape {
		s[i] = int(n)
	}
	return s
}

// Matrix is a dense rows x cols matrix of T, stored row-major.
type Matrix[T any] struct {
	Rows int
	Cols int

	// Data has Rows*Cols elements; element (i, j) is Data[i*Cols+j].
	Data []T
}

// NewMatrix returns a zero rows x cols matrix.
func NewMatrix[T any](rows, cols int) *Matrix[T] {
	m := &Matrix[T]{}
	m.SetShape(rows, cols)
	return m
}

func (m *Matrix[T]) At(i, j int) T { return m.Data[i*m.Cols+j] }

func (m *Matrix[T]) Set(i, j int, v T) { m.Data[i*m.Cols+j] = v }

func (m *Matrix[T]) Shape() []int { return []int{m.Rows, m.Cols} }

// SetShape sets the matrix to rows x cols, given as the two sizes.
// Existing values are kept in flat order.
func (m *Matrix[T]) SetShape(shape ...int) {
	if len(shape) != 2 || shape[0] < 0 || shape[1] < 0 {
		panic(fmt.Sprintf("mpi.Matrix.SetShape: invalid matrix shape %v", shape))
	}
	m.Rows, m.Cols = shape[0], shape[1]
	m.Data = slicesx.SetLength(m.Data, m.Rows*m.Cols)
}

func (m *Matrix[T]) Values() []T { return m.Data }

// Vector is a dense vector of T.
type Vector[T any] []T

func (v *Vector[T]) Shape() []int { return []int{len(*v)} }

func (v *Vector[T]) SetShape(shape ...int) {
	if len(shape) != 1 || shape[0] < 0 {
		panic(fmt.Sprintf("mpi.Vector.SetShape: invalid vector shape %v", shape))
	}
	*v = slicesx.SetLength(*v, shape[0])
}

func (v *Vector[T]) Values() []T { return *v }

// BroadcastMatrix broadcasts m from the root, resizing m on the other procs.
func BroadcastMatrix[T any](cm *Comm, m *Matrix[T], root int) error {
	return BroadcastShaped[T](cm, m, root)
}

// GatherMatrix gathers m from every proc on the root.
func GatherMatrix[T any](cm *Comm, m *Matrix[T], root int) ([]*Matrix[T], error) {
	return GatherShaped[T](cm, m, root, func() *Matrix[T] { return &Matrix[T]{} })
}

// BroadcastVector broadcasts v from the root, resizing v on the other procs.
func BroadcastVector[T any](cm *Comm, v *Vector[T], root int) error {
	return BroadcastShaped[T](cm, v, root)
}

// GatherVector gathers v from every proc on the root.
func GatherVector[T any](cm *Comm, v *Vector[T], root int) ([]*Vector[T], error) {
	return GatherShaped[T](cm, v, root, func() *Vector[T] { return &Vector[T]{} })
}
