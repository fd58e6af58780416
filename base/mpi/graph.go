// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mpi

import (
	"context"
	"fmt"
	"slices"

	"cogentcore.org/hpc/base/errors"
	"cogentcore.org/hpc/base/slicesx"
)

// GraphComm is a communicator restricted to a directed neighbor
// topology: each proc receives from its sources and sends to its
// destinations, in the order it declared them. It has its own context,
// so freeing it does not affect the communicator it was made from.
type GraphComm struct {
	*Comm

	sources       []int
	destinations  []int
	sourceWeights []int
	destWeights   []int
	weighted      bool
}

// GraphOption is an option for [NewGraphComm].
type GraphOption func(*graphOptions)

type graphOptions struct {
	weighted      bool
	sourceWeights []int
	destWeights   []int
}

// WithWeights makes the graph weighted, with one weight per source and
// one per destination, in the same order as the neighbor lists.
func WithWeights(sourceWeights, destWeights []int) GraphOption {
	return func(o *graphOptions) {
		o.weighted = true
		o.sourceWeights = slices.Clone(sourceWeights)
		o.destWeights = slices.Clone(destWeights)
	}
}

// graphEntry is the part of the topology declared by one proc.
type graphEntry struct {
	weighted      bool
	sources       []int
	destinations  []int
	sourceWeights []int
	destWeights   []int
}

// encode packs e as int64 values: the weighted flag, the four list
// lengths, then the four lists.
func (e *graphEntry) encode() []int64 {
	lists := [][]int{e.sources, e.destinations, e.sourceWeights, e.destWeights}
	v := []int64{0}
	if e.weighted {
		v[0] = 1
	}
	for _, l := range lists {
		v = append(v, int64(len(l)))
	}
	for _, l := range lists {
		v = append(v, shapeToInt64(l)...)
	}
	return v
}

func decodeGraphEntry(v []int64) (*graphEntry, error) {
	if len(v) < 5 {
		return nil, fmt.Errorf("graph entry of %d values", len(v))
	}
	e := &graphEntry{weighted: v[0] != 0}
	lists := []*[]int{&e.sources, &e.destinations, &e.sourceWeights, &e.destWeights}
	off := 5
	for i, l := range lists {
		n := int(v[1+i])
		if n < 0 || off+n > len(v) {
			return nil, fmt.Errorf("graph entry list %d of length %d out of %d values", i, n, len(v))
		}
		*l = shapeFromInt64(v[off : off+n])
		off += n
	}
	return e, nil
}

// checkTopology checks the topology declared by all procs: every rank
// in range, weights matching the lists, and for every proc, its sources
// are exactly the procs that name it as a destination, with multiplicity.
func checkTopology(entries []*graphEntry) error {
	n := len(entries)
	for r, e := range entries {
		for _, q := range slices.Concat(e.sources, e.destinations) {
			if q < 0 || q >= n {
				return fmt.Errorf("%w: rank %d names neighbor %d, out of range [0, %d)", ErrTopology, r, q, n)
			}
		}
		if e.weighted && (len(e.sourceWeights) != len(e.sources) || len(e.destWeights) != len(e.destinations)) {
			return fmt.Errorf("%w: rank %d has %d source and %d destination weights for %d sources and %d destinations",
				ErrTopology, r, len(e.sourceWeights), len(e.destWeights), len(e.sources), len(e.destinations))
		}
	}
	// edges[r][q] counts edges q->r declared as sources of r,
	// minus those declared as destinations of q.
	edges := make([]map[int]int, n)
	for r, e := range entries {
		edges[r] = map[int]int{}
		for _, q := range e.sources {
			edges[r][q]++
		}
	}
	for q, e := range entries {
		for _, r := range e.destinations {
			edges[r][q]--
		}
	}
	for r := range edges {
		for q := range n {
			switch d := edges[r][q]; {
			case d > 0:
				return fmt.Errorf("%w: rank %d lists %d as a source %d more times than %d lists it as a destination", ErrTopology, r, q, d, q)
			case d < 0:
				return fmt.Errorf("%w: rank %d lists %d as a destination %d more times than %d lists it as a source", ErrTopology, q, r, -d, r)
			}
		}
	}
	return nil
}

// NewGraphComm makes a graph communicator over the procs of base,
// with the given sources and destinations for the calling proc.
// It must be called by all members of base. The topology declared by
// all procs is checked on every proc, and if it is inconsistent every
// proc returns an error wrapping [ErrTopology].
func NewGraphComm(base *Comm, sources, destinations []int, opts ...GraphOption) (*GraphComm, error) {
	if base.IsNull() {
		return nil, ErrNullComm
	}
	o := &graphOptions{}
	for _, opt := range opts {
		opt(o)
	}
	local := &graphEntry{
		weighted:      o.weighted,
		sources:       slices.Clone(sources),
		destinations:  slices.Clone(destinations),
		sourceWeights: o.sourceWeights,
		destWeights:   o.destWeights,
	}
	h := base.h
	ity := MustTypeOf[int64]()
	tag := h.tag(opGraphCreate)
	parts, err := h.allgather(tag, encode(ity, local.encode()))
	if err != nil {
		return nil, h.fail("NewGraphComm", err)
	}
	entries := make([]*graphEntry, len(parts))
	for r, p := range parts {
		v, err := decode[int64](ity, p, "mpi.NewGraphComm")
		if err == nil {
			entries[r], err = decodeGraphEntry(v)
		}
		if err != nil {
			return nil, h.fail("NewGraphComm", err)
		}
	}
	if err := checkTopology(entries); err != nil {
		if LogErrors {
			errors.Log(err)
		}
		return nil, err
	}
	g := &GraphComm{
		Comm:          &Comm{h: newHandle(h.tr, h.childID("g", tag), slices.Clone(h.ranks), h.rank)},
		sources:       local.sources,
		destinations:  local.destinations,
		sourceWeights: local.sourceWeights,
		destWeights:   local.destWeights,
		weighted:      local.weighted,
	}
	return g, nil
}

// NEdges returns the number of sources and destinations of this proc,
// and whether the graph is weighted.
func (g *GraphComm) NEdges() (in, out int, weighted bool) {
	return len(g.sources), len(g.destinations), g.weighted
}

// Sources returns the ranks this proc receives from, in declared order.
func (g *GraphComm) Sources() []int { return slices.Clone(g.sources) }

// Destinations returns the ranks this proc sends to, in declared order.
func (g *GraphComm) Destinations() []int { return slices.Clone(g.destinations) }

// SourceWeights returns the source edge weights, or nil if unweighted.
func (g *GraphComm) SourceWeights() []int { return slices.Clone(g.sourceWeights) }

// DestWeights returns the destination edge weights, or nil if unweighted.
func (g *GraphComm) DestWeights() []int { return slices.Clone(g.destWeights) }

// NeighborAllGather sends v to every destination and returns the
// values received from the sources: result[i] is from Sources()[i].
// A source listed several times sends once per listing, received in
// order. It must be called by all members of g.
func NeighborAllGather[T any](g *GraphComm, v T) ([]T, error) {
	const fn = "mpi.NeighborAllGather"
	dt := MustTypeOf[T]()
	if g.IsNull() {
		return nil, ErrNullComm
	}
	h := g.h
	tag := h.tag(opNeighborAllGather)
	data := encode(dt, []T{v})
	for _, d := range g.destinations {
		if err := h.send(d, tag, data); err != nil {
			return nil, h.fail("NeighborAllGather", err)
		}
	}
	out := make([]T, len(g.sources))
	for i, s := range g.sources {
		b, err := h.recv(context.Background(), s, tag)
		if err == nil {
			err = decodeInto(dt, b, out[i:i+1], fn)
		}
		if err != nil {
			return nil, h.fail("NeighborAllGather", err)
		}
	}
	return out, nil
}

// NeighborIAllGatherV sends input to every destination and starts
// receiving counts[i] values from Sources()[i] into consecutive
// segments of *output, which is resized to the sum of counts. It
// returns once the sends are done; the [Request] completes when all
// segments are received. *output must not be used until then.
// It must be called by all members of g.
func NeighborIAllGatherV[T any](g *GraphComm, input []T, output *[]T, counts []int) (*Request, error) {
	const fn = "mpi.NeighborIAllGatherV"
	dt := MustTypeOf[T]()
	if g.IsNull() {
		return nil, ErrNullComm
	}
	if len(counts) != len(g.sources) {
		panic(fmt.Sprintf("%s: %d counts for %d sources", fn, len(counts), len(g.sources)))
	}
	for i, c := range counts {
		if c < 0 {
			panic(fmt.Sprintf("%s: negative count %d for source %d", fn, c, i))
		}
	}
	counts = slices.Clone(counts)
	*output = slicesx.SetLength(*output, slicesx.Sum(counts))
	out := *output

	h := g.h
	tag := h.tag(opNeighborAllGatherV)
	data := encode(dt, input)
	for _, d := range g.destinations {
		if err := h.send(d, tag, data); err != nil {
			return nil, h.fail("NeighborIAllGatherV", err)
		}
	}
	if len(g.sources) == 0 {
		req := newRequest(nil, counts)
		req.complete(nil)
		return req, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	req := newRequest(cancel, counts)
	offsets := slicesx.Offsets(counts)
	sources := g.sources
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				req.pnc = r
				req.complete(nil)
			}
		}()
		for i, s := range sources {
			b, err := h.recv(ctx, s, tag)
			if err == nil {
				err = decodeInto(dt, b, out[offsets[i]:offsets[i]+counts[i]], fn)
			}
			if err != nil {
				if ctx.Err() != nil {
					req.complete(ErrCanceled)
				} else {
					req.complete(h.fail("NeighborIAllGatherV", err))
				}
				return
			}
		}
		req.complete(nil)
	}()
	return req, nil
}
