// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpi

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync/atomic"

	"cogentcore.org/hpc/base/errors"
	"cogentcore.org/hpc/base/mpi/transport"
)

// opcode identifies the kind of collective in a message tag.
type opcode uint8

const (
	opBarrier opcode = iota + 1
	opBroadcast
	opGather
	opAllGather
	opSplit
	opDuplicate
	opGraphCreate
	opNeighborAllGather
	opNeighborAllGatherV
	opShape
)

// phase2 marks the second phase of a two-phase exchange in a tag.
const phase2 = 1 << 7

// handle is a reference-counted communication context shared by
// all the [Comm] values that alias it.
type handle struct {

	// id is the context identity; message keys include it,
	// so contexts never see each other's messages.
	id string

	tr transport.Transport

	// ranks maps group ranks to world ranks.
	ranks []int

	// rank is the group rank of this process.
	rank int

	// world contexts belong to the runtime and are never released.
	world bool

	refs     atomic.Int64
	released atomic.Bool

	// seq numbers the collectives issued on the context. All members
	// issue them in the same order, so it matches across ranks.
	seq atomic.Uint64
}

func newHandle(tr transport.Transport, id string, ranks []int, rank int) *handle {
	h := &handle{id: id, tr: tr, ranks: ranks, rank: rank}
	h.refs.Store(1)
	slog.Debug("mpi: context created", "context", id, "rank", rank, "size", len(ranks))
	return h
}

func newWorldHandle(tr transport.Transport) *handle {
	ranks := make([]int, tr.Size())
	for i := range ranks {
		ranks[i] = i
	}
	h := newHandle(tr, "world", ranks, tr.Rank())
	h.world = true
	return h
}

func (h *handle) retain() *handle {
	h.refs.Add(1)
	return h
}

// release drops one reference. When the last one is gone, messages
// queued for the context are discarded. It reports whether the
// context was released.
func (h *handle) release() bool {
	n := h.refs.Add(-1)
	if n < 0 {
		panic(fmt.Sprintf("mpi: context %s released more often than shared", h.id))
	}
	if n > 0 || h.world {
		return false
	}
	h.released.Store(true)
	h.tr.Discard(h.id)
	slog.Debug("mpi: context released", "context", h.id, "rank", h.rank)
	return true
}

func (h *handle) size() int { return len(h.ranks) }

// tag returns the tag of the next collective of the given kind.
func (h *handle) tag(op opcode) uint64 {
	return h.seq.Add(1)<<8 | uint64(op)
}

// childID returns the identity of a context derived from h
// by the collective with the given tag.
func (h *handle) childID(kind string, tag uint64, extra ...any) string {
	id := fmt.Sprintf("%s.%s%d", h.id, kind, tag>>8)
	for _, e := range extra {
		id += fmt.Sprintf(".%v", e)
	}
	return id
}

// fail wraps a transport error.
func (h *handle) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	e := &Error{Op: op, Context: h.id, Err: err}
	if LogErrors {
		errors.Log(e)
	}
	return e
}

func (h *handle) send(dest int, tag uint64, data []byte) error {
	msg := transport.Message{Key: transport.Key{Context: h.id, Source: h.tr.Rank(), Tag: tag}, Data: data}
	return h.tr.Send(context.Background(), h.ranks[dest], msg)
}

func (h *handle) recv(ctx context.Context, src int, tag uint64) ([]byte, error) {
	return h.tr.Recv(ctx, transport.Key{Context: h.id, Source: h.ranks[src], Tag: tag})
}

// bcast is a binomial tree broadcast of data from root.
// It returns the root's data on every rank.
func (h *handle) bcast(tag uint64, data []byte, root int) ([]byte, error) {
	size := h.size()
	rel := (h.rank - root + size) % size
	mask := 1
	for mask < size {
		if rel&mask != 0 {
			b, err := h.recv(context.Background(), (rel-mask+root)%size, tag)
			if err != nil {
				return nil, err
			}
			data = b
			break
		}
		mask <<= 1
	}
	for mask >>= 1; mask > 0; mask >>= 1 {
		if rel+mask < size {
			if err := h.send((rel+mask+root)%size, tag, data); err != nil {
				return nil, err
			}
		}
	}
	return data, nil
}

// gather collects data from all ranks on root, indexed by rank.
// Non-root ranks return nil.
func (h *handle) gather(tag uint64, data []byte, root int) ([][]byte, error) {
	if h.rank != root {
		return nil, h.send(root, tag, data)
	}
	parts := make([][]byte, h.size())
	for r := range parts {
		if r == root {
			parts[r] = data
			continue
		}
		b, err := h.recv(context.Background(), r, tag)
		if err != nil {
			return nil, err
		}
		parts[r] = b
	}
	return parts, nil
}

// allgather gathers data on rank 0 and broadcasts the
// packed result, returning every rank's data on every rank.
func (h *handle) allgather(tag uint64, data []byte) ([][]byte, error) {
	parts, err := h.gather(tag, data, 0)
	if err != nil {
		return nil, err
	}
	var packed []byte
	if h.rank == 0 {
		packed = pack(parts)
	}
	packed, err = h.bcast(tag|phase2, packed, 0)
	if err != nil {
		return nil, err
	}
	return unpack(packed, h.size())
}

// barrier returns once all ranks have entered it.
func (h *handle) barrier(tag uint64) error {
	_, err := h.allgather(tag, nil)
	return err
}

// pack concatenates parts behind a table of their lengths.
func pack(parts [][]byte) []byte {
	n := 4 * len(parts)
	for _, p := range parts {
		n += len(p)
	}
	b := make([]byte, 4*len(parts), n)
	for i, p := range parts {
		binary.LittleEndian.PutUint32(b[4*i:], uint32(len(p)))
	}
	for _, p := range parts {
		b = append(b, p...)
	}
	return b
}

func unpack(b []byte, n int) ([][]byte, error) {
	if len(b) < 4*n {
		return nil, fmt.Errorf("packed buffer of %d bytes for %d parts", len(b), n)
	}
	parts := make([][]byte, n)
	off := 4 * n
	for i := range parts {
		ln := int(binary.LittleEndian.Uint32(b[4*i:]))
		if off+ln > len(b) {
			return nil, fmt.Errorf("packed buffer of %d bytes truncated at part %d", len(b), i)
		}
		parts[i] = b[off : off+ln]
		off += ln
	}
	return parts, nil
}
