// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// rankMatrix returns a (r+1) x (r+2) matrix with values depending on r.
func rankMatrix(r int) *Matrix[float64] {
	m := NewMatrix[float64](r+1, r+2)
	for i := range m.Rows {
		for j := range m.Cols {
			m.Set(i, j, float64(100*r+10*i+j))
		}
	}
	return m
}

func TestMatrix(t *testing.T) {
	m := NewMatrix[int](2, 3)
	assert.Equal(t, []int{2, 3}, m.Shape())
	assert.Len(t, m.Values(), 6)
	m.Set(1, 2, 7)
	assert.Equal(t, 7, m.Data[5])
	assert.Equal(t, 7, m.At(1, 2))
	assert.Panics(t, func() { m.SetShape(6) })
	assert.Panics(t, func() { m.SetShape(-1, 2) })

	v := Vector[int]{1, 2}
	v.SetShape(4)
	assert.Equal(t, Vector[int]{1, 2, 0, 0}, v)
	assert.Equal(t, []int{4}, v.Shape())
}

func TestBroadcastMatrix(t *testing.T) {
	for _, root := range []int{0, 2} {
		err := Spawn(3, func(world *Comm) error {
			r := world.Rank()
			m := rankMatrix(r)
			if err := BroadcastMatrix(world, m, root); err != nil {
				return err
			}
			assert.Equal(t, rankMatrix(root), m)
			return nil
		})
		assert.NoError(t, err)
	}
}

func TestBroadcastEmpty(t *testing.T) {
	err := Spawn(2, func(world *Comm) error {
		m := NewMatrix[int32](3, 3)
		if world.IsRoot() {
			m = NewMatrix[int32](0, 4)
		}
		if err := BroadcastMatrix(world, m, Root); err != nil {
			return err
		}
		assert.Equal(t, []int{0, 4}, m.Shape())
		assert.Empty(t, m.Data)
		return nil
	})
	assert.NoError(t, err)
}

func TestGatherMatrix(t *testing.T) {
	err := Spawn(4, func(world *Comm) error {
		r := world.Rank()
		m := rankMatrix(r)
		got, err := GatherMatrix(world, m, 1)
		if err != nil {
			return err
		}
		if r != 1 {
			assert.Nil(t, got)
			return nil
		}
		if assert.Len(t, got, 4) {
			for i, g := range got {
				assert.Equal(t, rankMatrix(i), g)
			}
			assert.NotSame(t, m, got[1])
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestVectors(t *testing.T) {
	err := Spawn(3, func(world *Comm) error {
		r := world.Rank()
		v := make(Vector[int64], r)
		for i := range v {
			v[i] = int64(r)
		}
		got, err := GatherVector(world, &v, 0)
		if err != nil {
			return err
		}
		if r == 0 {
			if !assert.Len(t, got, 3) {
				return assert.AnError
			}
			assert.Empty(t, *got[0])
			assert.Equal(t, Vector[int64]{1}, *got[1])
			assert.Equal(t, Vector[int64]{2, 2}, *got[2])
		}

		if err := BroadcastVector(world, &v, 2); err != nil {
			return err
		}
		assert.Equal(t, Vector[int64]{2, 2}, v)
		return nil
	})
	assert.NoError(t, err)
}

func TestShapedNull(t *testing.T) {
	var cm *Comm
	m := rankMatrix(1)
	assert.NoError(t, BroadcastMatrix(cm, m, 0))
	assert.Equal(t, rankMatrix(1), m)
	got, err := GatherMatrix(cm, m, 0)
	assert.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, m, got[0])
	assert.NotSame(t, m, got[0])
}

func TestDense(t *testing.T) {
	// a view with a stride larger than its columns
	big := mat.NewDense(3, 4, []float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
	})
	view := big.Slice(0, 2, 1, 3).(*mat.Dense)
	m := MatrixFromDense(view)
	assert.Equal(t, &Matrix[float64]{Rows: 2, Cols: 2, Data: []float64{2, 3, 6, 7}}, m)
	assert.True(t, mat.Equal(view, DenseFromMatrix(m)))

	assert.True(t, DenseFromMatrix(&Matrix[float64]{Rows: 0, Cols: 3}).IsEmpty())
	assert.Equal(t, 0, MatrixFromDense(&mat.Dense{}).Rows)

	err := Spawn(3, func(world *Comm) error {
		d := mat.NewDense(1, 1, []float64{-1})
		if world.Rank() == 1 {
			d = view
		}
		if err := BroadcastDense(world, d, 1); err != nil {
			return err
		}
		assert.True(t, mat.Equal(view, d))

		got, err := GatherDense(world, mat.NewDense(1, world.Rank()+1, nil), 0)
		if err != nil {
			return err
		}
		if world.IsRoot() {
			if !assert.Len(t, got, 3) {
				return assert.AnError
			}
			for i, g := range got {
				r, c := g.Dims()
				assert.Equal(t, 1, r)
				assert.Equal(t, i+1, c)
			}
		}

		v := mat.NewVecDense(2, []float64{0, 0})
		if world.IsRoot() {
			v = mat.NewVecDense(3, []float64{1, 2, 3})
		}
		if err := BroadcastVecDense(world, v, 0); err != nil {
			return err
		}
		assert.Equal(t, []float64{1, 2, 3}, v.RawVector().Data)

		vs, err := GatherVecDense(world, mat.NewVecDense(1, []float64{float64(world.Rank())}), 2)
		if err != nil {
			return err
		}
		if world.Rank() == 2 {
			if !assert.Len(t, vs, 3) {
				return assert.AnError
			}
			for i, g := range vs {
				assert.Equal(t, float64(i), g.AtVec(0))
			}
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestDenseEmpty(t *testing.T) {
	err := Spawn(2, func(world *Comm) error {
		d := mat.NewDense(2, 2, nil)
		if world.IsRoot() {
			d = &mat.Dense{}
		}
		if err := BroadcastDense(world, d, 0); err != nil {
			return err
		}
		assert.True(t, d.IsEmpty())
		return nil
	})
	assert.NoError(t, err)
}
