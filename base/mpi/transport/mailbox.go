// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"sync"
)

// Mailbox holds messages that have arrived at a rank but have not
// been received yet, in per-[Key] FIFO queues. It is the matching
// engine shared by all transports.
type Mailbox struct {
	mu     sync.Mutex
	queues map[Key]*queue

	// released holds the contexts passed to Discard.
	released map[string]struct{}

	// done is closed by Close.
	done chan struct{}
	err  error
}

type queue struct {
	items [][]byte

	// wait is closed and cleared when an item arrives.
	wait chan struct{}
}

// NewMailbox returns a new empty [Mailbox].
func NewMailbox() *Mailbox {
	return &Mailbox{
		queues:   make(map[Key]*queue),
		released: make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Deliver appends data to the queue for key. It reports false if the
// mailbox is closed. Messages for a discarded context are dropped.
// The mailbox takes ownership of data.
func (mb *Mailbox) Deliver(key Key, data []byte) bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.err != nil {
		return false
	}
	if _, ok := mb.released[key.Context]; ok {
		return true
	}
	q := mb.queue(key)
	q.items = append(q.items, data)
	if q.wait != nil {
		close(q.wait)
		q.wait = nil
	}
	return true
}

// Take removes and returns the oldest message for key, blocking until
// one arrives, ctx is done or the mailbox is closed.
func (mb *Mailbox) Take(ctx context.Context, key Key) ([]byte, error) {
	for {
		mb.mu.Lock()
		if mb.err != nil {
			err := mb.err
			mb.mu.Unlock()
			return nil, err
		}
		q := mb.queue(key)
		if len(q.items) > 0 {
			data := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			if len(q.items) == 0 && q.wait == nil {
				delete(mb.queues, key)
			}
			mb.mu.Unlock()
			return data, nil
		}
		if q.wait == nil {
			q.wait = make(chan struct{})
		}
		wait := q.wait
		mb.mu.Unlock()

		select {
		case <-wait:
		case <-mb.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Discard drops every queued message whose key belongs to context,
// and every message for it that is delivered later.
// Context ids must not be reused after Discard.
func (mb *Mailbox) Discard(context string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.err != nil {
		return
	}
	mb.released[context] = struct{}{}
	for k, q := range mb.queues {
		if k.Context != context {
			continue
		}
		if q.wait == nil {
			delete(mb.queues, k)
		} else {
			q.items = nil
		}
	}
}

// Pending returns the number of queued messages, for diagnostics.
func (mb *Mailbox) Pending() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	n := 0
	for _, q := range mb.queues {
		n += len(q.items)
	}
	return n
}

// Close closes the mailbox: pending and future Take calls return err
// (or [ErrClosed] if err is nil). Close is idempotent.
func (mb *Mailbox) Close(err error) {
	if err == nil {
		err = ErrClosed
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.err != nil {
		return
	}
	mb.err = err
	mb.queues = nil
	mb.released = nil
	close(mb.done)
}

// queue must be called with mu held.
func (mb *Mailbox) queue(key Key) *queue {
	q, ok := mb.queues[key]
	if !ok {
		q = &queue{}
		mb.queues[key] = q
	}
	return q
}
