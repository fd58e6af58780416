// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpi

import (
	"gonum.org/v1/gonum/mat"
)

// MatrixFromDense returns a [Matrix] with a copy of the values of d,
// which may be empty.
func MatrixFromDense(d *mat.Dense) *Matrix[float64] {
	if d.IsEmpty() {
		return &Matrix[float64]{}
	}
	r, c := d.Dims()
	m := NewMatrix[float64](r, c)
	for i := range r {
		copy(m.Data[i*c:(i+1)*c], d.RawRowView(i))
	}
	return m
}

// DenseFromMatrix returns a gonum matrix with a copy of the values of m.
// gonum has no zero-sized matrices, so a matrix with no elements
// gives an empty Dense.
func DenseFromMatrix(m *Matrix[float64]) *mat.Dense {
	if m.Rows == 0 || m.Cols == 0 {
		return &mat.Dense{}
	}
	return mat.NewDense(m.Rows, m.Cols, append([]float64(nil), m.Data...))
}

// setDense overwrites d with the values of m.
func setDense(d *mat.Dense, m *Matrix[float64]) {
	if m.Rows == 0 || m.Cols == 0 {
		d.Reset()
		return
	}
	d.CloneFrom(mat.NewDense(m.Rows, m.Cols, m.Data))
}

// BroadcastDense broadcasts d from the root, resizing d on the other procs.
func BroadcastDense(cm *Comm, d *mat.Dense, root int) error {
	m := &Matrix[float64]{}
	if cm.Rank() == root {
		m = MatrixFromDense(d)
	}
	if err := BroadcastMatrix(cm, m, root); err != nil {
		return err
	}
	if cm.Rank() != root {
		setDense(d, m)
	}
	return nil
}

// GatherDense gathers d from every proc on the root.
func GatherDense(cm *Comm, d *mat.Dense, root int) ([]*mat.Dense, error) {
	ms, err := GatherMatrix(cm, MatrixFromDense(d), root)
	if ms == nil || err != nil {
		return nil, err
	}
	ds := make([]*mat.Dense, len(ms))
	for i, m := range ms {
		ds[i] = DenseFromMatrix(m)
	}
	return ds, nil
}

// vectorFromVecDense returns a copy of the values of v.
func vectorFromVecDense(v *mat.VecDense) *Vector[float64] {
	vec := make(Vector[float64], v.Len())
	for i := range vec {
		vec[i] = v.AtVec(i)
	}
	return &vec
}

func vecDenseFromVector(v Vector[float64]) *mat.VecDense {
	if len(v) == 0 {
		return &mat.VecDense{}
	}
	return mat.NewVecDense(len(v), append([]float64(nil), v...))
}

// BroadcastVecDense broadcasts v from the root, resizing v on the other procs.
func BroadcastVecDense(cm *Comm, v *mat.VecDense, root int) error {
	vec := &Vector[float64]{}
	if cm.Rank() == root {
		vec = vectorFromVecDense(v)
	}
	if err := BroadcastVector(cm, vec, root); err != nil {
		return err
	}
	if cm.Rank() == root {
		return nil
	}
	if len(*vec) == 0 {
		v.Reset()
		return nil
	}
	v.CloneFromVec(mat.NewVecDense(len(*vec), *vec))
	return nil
}

// GatherVecDense gathers v from every proc on the root.
func GatherVecDense(cm *Comm, v *mat.VecDense, root int) ([]*mat.VecDense, error) {
	vs, err := GatherVector(cm, vectorFromVecDense(v), root)
	if vs == nil || err != nil {
		return nil, err
	}
	out := make([]*mat.VecDense, len(vs))
	for i, vec := range vs {
		out[i] = vecDenseFromVector(*vec)
	}
	return out, nil
}
