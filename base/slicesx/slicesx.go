// Copyright (c) 2024, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package slicesx provides additional slice functions
// beyond those in the standard [slices] package,
// mainly for moving flat numeric buffers around.
package slicesx

import (
	"slices"
	"unsafe"
)

// SetLength sets the length of the given slice,
// re-using and preserving existing values to the extent possible.
func SetLength[E any](s []E, n int) []E {
	if len(s) == n {
		return s
	}
	if s == nil {
		return make([]E, n)
	}
	if cap(s) < n {
		s = slices.Grow(s, n-len(s))
	}
	return s[:n]
}

// ToBytes returns the underlying bytes of given slice.
// For items not in a slice, make one of length 1.
// The returned bytes alias the slice memory.
func ToBytes[E any](src []E) []byte {
	if len(src) == 0 {
		return nil
	}
	var e E
	sz := int(unsafe.Sizeof(e))
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(src))), sz*len(src))
}

// FromBytes returns a newly allocated slice of n elements
// with the bytes of src copied into it. If src is shorter
// than the n elements, the remainder is zero.
func FromBytes[E any](src []byte, n int) []E {
	dst := make([]E, n)
	copy(ToBytes(dst), src)
	return dst
}

// Sum returns the sum of the given integer values.
func Sum[E ~int | ~int32 | ~int64](s []E) E {
	var t E
	for _, v := range s {
		t += v
	}
	return t
}

// Offsets returns the prefix sums of counts: the starting offset of
// each segment in a buffer made by concatenating segments of those sizes.
func Offsets[E ~int | ~int32 | ~int64](counts []E) []E {
	offs := make([]E, len(counts))
	var o E
	for i, c := range counts {
		offs[i] = o
		o += c
	}
	return offs
}
