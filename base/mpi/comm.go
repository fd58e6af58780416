// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpi

import (
	"cmp"
	"fmt"
	"slices"

	"cogentcore.org/hpc/base/mpi/transport"
)

// Comm is the MPI communicator: all MPI communication operates as
// methods on it or as functions taking it. A Comm is a reference to a
// shared communication context; [Comm.Share] makes another reference
// and [Comm.Free] drops one, and the context is released when the last
// reference is freed.
//
// A nil or freed Comm, and the result of splitting with color
// [Undefined], is a null communicator: it behaves as a group holding
// only the calling process.
type Comm struct {
	h *handle
}

// NewWorld returns a world communicator over the given transport,
// independent of the process-wide runtime. [Spawn] uses it to run
// several ranks in one process.
func NewWorld(tr transport.Transport) *Comm {
	return &Comm{h: newWorldHandle(tr)}
}

// IsNull reports whether cm is a null communicator.
func (cm *Comm) IsNull() bool {
	return cm == nil || cm.h == nil
}

// Rank returns the rank/ID for this proc
func (cm *Comm) Rank() (rank int) {
	if cm.IsNull() {
		return 0
	}
	return cm.h.rank
}

// Size returns the number of procs in this communicator
func (cm *Comm) Size() (size int) {
	if cm.IsNull() {
		return 1
	}
	return cm.h.size()
}

// IsRoot reports whether this proc is the [Root] of the communicator.
func (cm *Comm) IsRoot() bool {
	return cm.Rank() == Root
}

// RootID returns the rank of the root process, which is always [Root].
func (cm *Comm) RootID() int {
	return Root
}

// ID returns the identity of the communication context.
// It is the same on all members and differs between contexts.
// It is empty for a null communicator.
func (cm *Comm) ID() string {
	if cm.IsNull() {
		return ""
	}
	return cm.h.id
}

// IsWorld reports whether cm refers to a world context.
func (cm *Comm) IsWorld() bool {
	return !cm.IsNull() && cm.h.world
}

// WorldRanks returns the world rank of each member, indexed by rank.
func (cm *Comm) WorldRanks() []int {
	if cm.IsNull() {
		return []int{WorldRank()}
	}
	return slices.Clone(cm.h.ranks)
}

func (cm *Comm) String() string {
	if cm.IsNull() {
		return "mpi.Comm(null)"
	}
	return fmt.Sprintf("mpi.Comm(%s, rank %d of %d)", cm.h.id, cm.h.rank, cm.h.size())
}

// Share returns a new reference to the same context.
func (cm *Comm) Share() *Comm {
	if cm.IsNull() {
		return &Comm{}
	}
	return &Comm{h: cm.h.retain()}
}

// Free drops this reference to the context and makes cm a null
// communicator. Freeing the last reference releases the context,
// except for world contexts, which belong to the runtime.
func (cm *Comm) Free() {
	if cm.IsNull() {
		return
	}
	cm.h.release()
	cm.h = nil
}

// Barrier forces synchronisation
func (cm *Comm) Barrier() error {
	if cm.IsNull() {
		return nil
	}
	return cm.h.fail("Barrier", cm.h.barrier(cm.h.tag(opBarrier)))
}

// Split partitions the communicator: processes that pass the same
// color get a new communicator together, with ranks ordered by key
// and then by rank in cm. Processes passing [Undefined] take part in
// the exchange and get a null communicator. It must be called by all
// members of cm.
func (cm *Comm) Split(color, key int) (*Comm, error) {
	if color < 0 && color != Undefined {
		panic(fmt.Sprintf("mpi.Comm.Split: invalid color %d", color))
	}
	if cm.IsNull() {
		return nil, ErrNullComm
	}
	h := cm.h
	tag := h.tag(opSplit)
	parts, err := h.allgather(tag, encode(MustTypeOf[int64](), []int64{int64(color), int64(key)}))
	if err != nil {
		return nil, h.fail("Split", err)
	}
	if color == Undefined {
		return &Comm{}, nil
	}
	type member struct{ rank, key int }
	var members []member
	for r, p := range parts {
		ck, err := decode[int64](MustTypeOf[int64](), p, "mpi.Comm.Split")
		if err != nil {
			return nil, h.fail("Split", err)
		}
		if int(ck[0]) == color {
			members = append(members, member{rank: r, key: int(ck[1])})
		}
	}
	slices.SortStableFunc(members, func(a, b member) int {
		return cmp.Or(cmp.Compare(a.key, b.key), cmp.Compare(a.rank, b.rank))
	})
	ranks := make([]int, len(members))
	rank := -1
	for i, m := range members {
		ranks[i] = h.ranks[m.rank]
		if m.rank == h.rank {
			rank = i
		}
	}
	return &Comm{h: newHandle(h.tr, h.childID("s", tag, color), ranks, rank)}, nil
}

// SplitColor is [Comm.Split] keeping the current rank order.
func (cm *Comm) SplitColor(color int) (*Comm, error) {
	return cm.Split(color, cm.Rank())
}

// Duplicate returns a communicator with the same group and rank order
// as cm but a distinct context, so that its messages never mix with
// those of cm. It must be called by all members of cm.
func (cm *Comm) Duplicate() (*Comm, error) {
	if cm.IsNull() {
		return nil, ErrNullComm
	}
	h := cm.h
	tag := h.tag(opDuplicate)
	if err := h.barrier(tag); err != nil {
		return nil, h.fail("Duplicate", err)
	}
	return &Comm{h: newHandle(h.tr, h.childID("d", tag), slices.Clone(h.ranks), h.rank)}, nil
}

// Clone is an alias for [Comm.Duplicate].
func (cm *Comm) Clone() (*Comm, error) {
	return cm.Duplicate()
}

// checkRoot panics if root is not a rank of a group of the given size.
func checkRoot(fn string, root, size int) {
	if root < 0 || root >= size {
		panic(fmt.Sprintf("%s: root %d out of range [0, %d)", fn, root, size))
	}
}
