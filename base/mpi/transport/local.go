// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"log/slog"
	"slices"
)

// Local is an in-process endpoint of a mesh created by [NewLocal].
// Each rank is expected to be driven by its own goroutine.
type Local struct {
	rank  int
	boxes []*Mailbox
}

// NewLocal returns the n endpoints of a new in-process mesh,
// indexed by rank.
func NewLocal(n int) []*Local {
	if n < 1 {
		panic("transport.NewLocal: need at least one rank")
	}
	boxes := make([]*Mailbox, n)
	for i := range boxes {
		boxes[i] = NewMailbox()
	}
	eps := make([]*Local, n)
	for i := range eps {
		eps[i] = &Local{rank: i, boxes: boxes}
	}
	slog.Debug("transport: local mesh created", "size", n)
	return eps
}

func (l *Local) Rank() int { return l.rank }

func (l *Local) Size() int { return len(l.boxes) }

// Send copies msg.Data into the destination mailbox.
func (l *Local) Send(ctx context.Context, dest int, msg Message) error {
	if err := checkSend(l, dest, msg); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !l.boxes[dest].Deliver(msg.Key, slices.Clone(msg.Data)) {
		return ErrClosed
	}
	return nil
}

func (l *Local) Recv(ctx context.Context, key Key) ([]byte, error) {
	return l.boxes[l.rank].Take(ctx, key)
}

func (l *Local) Discard(context string) {
	l.boxes[l.rank].Discard(context)
}

// Close closes this rank's mailbox only; other ranks keep running.
func (l *Local) Close() error {
	l.boxes[l.rank].Close(nil)
	return nil
}
