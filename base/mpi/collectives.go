// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpi

import "fmt"

// Broadcast sends v from the root to all other procs in the
// communicator and returns the root's value on every proc.
// T must be registered (see [Register]). It must be called by
// all members of cm with the same root.
func Broadcast[T any](cm *Comm, v T, root int) (T, error) {
	const fn = "mpi.Broadcast"
	dt := MustTypeOf[T]()
	checkRoot(fn, root, cm.Size())
	if cm.IsNull() {
		return v, nil
	}
	return broadcast(cm.h, dt, v, root, fn)
}

// BroadcastFrom receives the value broadcast by root with [Broadcast].
// It is for procs that have no value to contribute, and it panics if
// called on the root.
func BroadcastFrom[T any](cm *Comm, root int) (T, error) {
	const fn = "mpi.BroadcastFrom"
	dt := MustTypeOf[T]()
	checkRoot(fn, root, cm.Size())
	if cm.Rank() == root {
		panic(fmt.Sprintf("%s: called on root %d, which must call Broadcast", fn, root))
	}
	var zero T
	return broadcast(cm.h, dt, zero, root, fn)
}

func broadcast[T any](h *handle, dt *Datatype, v T, root int, fn string) (T, error) {
	tag := h.tag(opBroadcast)
	var data []byte
	if h.rank == root {
		data = encode(dt, []T{v})
	}
	b, err := h.bcast(tag, data, root)
	if err != nil {
		return v, h.fail("Broadcast", err)
	}
	if h.rank == root {
		return v, nil
	}
	out := make([]T, 1)
	if err := decodeInto(dt, b, out, fn); err != nil {
		return v, h.fail("Broadcast", err)
	}
	return out[0], nil
}

// Gather collects v from every proc on the root, which gets a slice
// with the value of rank i at index i. Other procs get nil.
// It must be called by all members of cm with the same root.
func Gather[T any](cm *Comm, v T, root int) ([]T, error) {
	const fn = "mpi.Gather"
	dt := MustTypeOf[T]()
	checkRoot(fn, root, cm.Size())
	if cm.IsNull() {
		return []T{v}, nil
	}
	h := cm.h
	parts, err := h.gather(h.tag(opGather), encode(dt, []T{v}), root)
	if err != nil {
		return nil, h.fail("Gather", err)
	}
	if parts == nil {
		return nil, nil
	}
	return decodeParts[T](h, dt, parts, "Gather", fn)
}

// AllGather collects v from every proc on every proc,
// with the value of rank i at index i.
func AllGather[T any](cm *Comm, v T) ([]T, error) {
	const fn = "mpi.AllGather"
	dt := MustTypeOf[T]()
	if cm.IsNull() {
		return []T{v}, nil
	}
	h := cm.h
	parts, err := h.allgather(h.tag(opAllGather), encode(dt, []T{v}))
	if err != nil {
		return nil, h.fail("AllGather", err)
	}
	return decodeParts[T](h, dt, parts, "AllGather", fn)
}

// decodeParts decodes one element from each part.
func decodeParts[T any](h *handle, dt *Datatype, parts [][]byte, op, fn string) ([]T, error) {
	out := make([]T, len(parts))
	for i, p := range parts {
		if err := decodeInto(dt, p, out[i:i+1], fn); err != nil {
			return nil, h.fail(op, err)
		}
	}
	return out, nil
}
