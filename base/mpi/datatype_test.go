// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpi

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type particle struct {
	Pos  [3]float64
	Mass float32
	ID   int32
}

func TestBuiltinTypes(t *testing.T) {
	dt, ok := TypeOf[float64]()
	require.True(t, ok)
	assert.Equal(t, "float64", dt.Name)
	assert.Equal(t, 8, dt.Size)
	assert.Equal(t, reflect.Float64, dt.Kind)

	// byte and rune are aliases
	assert.Same(t, MustTypeOf[uint8](), MustTypeOf[byte]())
	assert.Same(t, MustTypeOf[int32](), MustTypeOf[rune]())
	assert.Equal(t, 16, MustTypeOf[complex128]().Size)

	_, ok = TypeOf[string]()
	assert.False(t, ok)
	assert.Panics(t, func() { MustTypeOf[string]() })
}

func TestRegister(t *testing.T) {
	dt := Register[particle]("mpi.particle")
	assert.Equal(t, int(reflect.TypeFor[particle]().Size()), dt.Size)
	assert.Same(t, dt, Register[particle]("mpi.particle"))
	assert.Same(t, dt, MustTypeOf[particle]())

	assert.Panics(t, func() { Register[particle]("other") })
	assert.Panics(t, func() { Register[int16]("mpi.particle") })
	assert.Panics(t, func() { Register[*int]("ptr") })
	assert.Panics(t, func() { Register[[]int]("slice") })
	assert.Panics(t, func() { Register[struct{ S string }]("str") })
	assert.Panics(t, func() { Register[struct{}]("empty") })
}

func TestEncodeDecode(t *testing.T) {
	dt := MustTypeOf[int32]()
	b := encode(dt, []int32{1, -2, 3})
	assert.Len(t, b, headerSize+12)

	vals, err := decode[int32](dt, b, "test")
	require.NoError(t, err)
	assert.Equal(t, []int32{1, -2, 3}, vals)

	dst := make([]int32, 2)
	assert.ErrorIs(t, decodeInto(dt, b, dst, "test"), ErrCount)

	_, err = decode[int32](dt, b[:5], "test")
	assert.Error(t, err)

	// same size, different type
	assert.Panics(t, func() { decode[float32](MustTypeOf[float32](), b, "test") })
}
