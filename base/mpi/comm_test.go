// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpi

import (
	"testing"

	"cogentcore.org/hpc/base/mpi/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullComm(t *testing.T) {
	var cm *Comm
	assert.True(t, cm.IsNull())
	assert.Equal(t, 1, cm.Size())
	assert.Equal(t, 0, cm.Rank())
	assert.True(t, cm.IsRoot())
	assert.Equal(t, "", cm.ID())
	assert.NoError(t, cm.Barrier())

	_, err := cm.Split(0, 0)
	assert.ErrorIs(t, err, ErrNullComm)
	_, err = cm.Duplicate()
	assert.ErrorIs(t, err, ErrNullComm)
	_, err = NewGraphComm(cm, nil, nil)
	assert.ErrorIs(t, err, ErrNullComm)

	v, err := Broadcast(cm, 3.5, 0)
	assert.NoError(t, err)
	assert.Equal(t, 3.5, v)
	g, err := Gather(cm, int8(7), 0)
	assert.NoError(t, err)
	assert.Equal(t, []int8{7}, g)

	assert.True(t, cm.Share().IsNull())
	cm.Free()
}

func TestWorld(t *testing.T) {
	err := Spawn(3, func(world *Comm) error {
		assert.Equal(t, 3, world.Size())
		assert.True(t, world.IsWorld())
		assert.Equal(t, "world", world.ID())
		assert.Less(t, world.Rank(), world.Size())
		assert.Equal(t, world.Rank() == 0, world.IsRoot())
		assert.Equal(t, Root, world.RootID())
		assert.Equal(t, []int{0, 1, 2}, world.WorldRanks())
		return world.Barrier()
	})
	assert.NoError(t, err)
}

func TestShareFree(t *testing.T) {
	tr := transport.NewLocal(1)[0]
	world := NewWorld(tr)
	dup, err := world.Duplicate()
	require.NoError(t, err)
	h := dup.h

	shared := dup.Share()
	assert.Equal(t, int64(2), h.refs.Load())
	assert.Equal(t, dup.ID(), shared.ID())

	dup.Free()
	assert.True(t, dup.IsNull())
	assert.False(t, h.released.Load())
	v, err := Broadcast(shared, 5, 0)
	assert.NoError(t, err)
	assert.Equal(t, 5, v)

	shared.Free()
	assert.True(t, h.released.Load())
	shared.Free() // no-op on a null communicator

	// the world context outlives its references
	w2 := world.Share()
	world.Free()
	w2.Free()
	sub, err := NewWorld(tr).Duplicate()
	require.NoError(t, err)
	sub.Free()
}

func TestWorldNotReleased(t *testing.T) {
	world := NewWorld(transport.NewLocal(1)[0])
	h := world.h
	world.Free()
	assert.False(t, h.released.Load())
	assert.Equal(t, int64(0), h.refs.Load())
}

func TestSplit(t *testing.T) {
	// colors by parity; keys reverse the order
	err := Spawn(5, func(world *Comm) error {
		r := world.Rank()
		sub, err := world.Split(r%2, -r)
		if err != nil {
			return err
		}
		defer sub.Free()
		if r%2 == 0 {
			assert.Equal(t, 3, sub.Size())
			assert.Equal(t, []int{4, 2, 0}, sub.WorldRanks())
			assert.Equal(t, (4-r)/2, sub.Rank())
		} else {
			assert.Equal(t, 2, sub.Size())
			assert.Equal(t, []int{3, 1}, sub.WorldRanks())
			assert.Equal(t, (3-r)/2, sub.Rank())
		}
		assert.NotEqual(t, world.ID(), sub.ID())

		// collectives on the sub communicator see only its members
		all, err := AllGather(sub, int64(r))
		if err != nil {
			return err
		}
		want := []int64{3, 1}
		if r%2 == 0 {
			want = []int64{4, 2, 0}
		}
		assert.Equal(t, want, all)
		return nil
	})
	assert.NoError(t, err)
}

func TestSplitKeyTies(t *testing.T) {
	err := Spawn(4, func(world *Comm) error {
		sub, err := world.Split(0, 1)
		if err != nil {
			return err
		}
		assert.Equal(t, world.Rank(), sub.Rank())
		assert.Equal(t, 4, sub.Size())
		sub.Free()
		return nil
	})
	assert.NoError(t, err)
}

func TestSplitUndefined(t *testing.T) {
	err := Spawn(4, func(world *Comm) error {
		color := Undefined
		if world.Rank() < 2 {
			color = 7
		}
		sub, err := world.SplitColor(color)
		if err != nil {
			return err
		}
		if color == Undefined {
			assert.True(t, sub.IsNull())
			assert.Equal(t, 1, sub.Size())
			return nil
		}
		assert.Equal(t, 2, sub.Size())
		assert.Equal(t, world.Rank(), sub.Rank())
		return sub.Barrier()
	})
	assert.NoError(t, err)
}

func TestSplitInvalidColor(t *testing.T) {
	world := NewWorld(transport.NewLocal(1)[0])
	assert.Panics(t, func() { world.Split(-2, 0) })
}

func TestDuplicate(t *testing.T) {
	err := Spawn(3, func(world *Comm) error {
		dup, err := world.Duplicate()
		if err != nil {
			return err
		}
		clone, err := dup.Clone()
		if err != nil {
			return err
		}
		assert.NotEqual(t, world.ID(), dup.ID())
		assert.NotEqual(t, dup.ID(), clone.ID())
		assert.Equal(t, world.Size(), dup.Size())
		assert.Equal(t, world.Rank(), dup.Rank())
		assert.False(t, dup.IsWorld())

		// interleaved collectives on different contexts do not mix
		r := world.Rank()
		if r == 0 {
			if _, err := Broadcast(dup, 100, 0); err != nil {
				return err
			}
			if _, err := Broadcast(world, 200, 0); err != nil {
				return err
			}
		} else {
			w, err := BroadcastFrom[int](world, 0)
			if err != nil {
				return err
			}
			d, err := BroadcastFrom[int](dup, 0)
			if err != nil {
				return err
			}
			assert.Equal(t, 200, w)
			assert.Equal(t, 100, d)
		}
		clone.Free()
		dup.Free()
		return nil
	})
	assert.NoError(t, err)
}

func TestFailingRank(t *testing.T) {
	err := Spawn(3, func(world *Comm) error {
		if world.Rank() == 1 {
			return assert.AnError
		}
		// blocks until rank 1 fails and the mesh is shut down
		return world.Barrier()
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestTransportError(t *testing.T) {
	tr := transport.NewLocal(2)
	world := NewWorld(tr[1])
	tr[1].Close()
	_, err := BroadcastFrom[int](world, 0)
	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "Broadcast", merr.Op)
	assert.Equal(t, "world", merr.Context)
	assert.ErrorIs(t, err, transport.ErrClosed)
}
