// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport provides the point-to-point message substrate
// underneath package mpi: reliable, eager (buffered) delivery of byte
// payloads between a fixed set of ranks, matched on the receive side
// by [Key]. Two implementations are provided: [NewLocal], an in-process
// mesh where each rank is a goroutine, and [NewWebSocket], a mesh of
// OS processes connected through websockets.
package transport

import (
	"context"
	"fmt"

	"cogentcore.org/hpc/base/errors"
)

var (
	// ErrClosed is returned for operations on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrRank is returned when a destination rank is out of range.
	ErrRank = errors.New("transport: rank out of range")

	// ErrHandshake is returned when a peer fails the connection handshake.
	ErrHandshake = errors.New("transport: handshake failed")
)

// Key identifies a stream of messages on the receive side.
// Messages with equal keys are delivered in the order they were sent.
type Key struct {

	// Context is the identity of the communication context.
	Context string `msgpack:"c"`

	// Source is the world rank of the sender.
	Source int `msgpack:"s"`

	// Tag distinguishes operations within a context.
	Tag uint64 `msgpack:"t"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%x", k.Context, k.Source, k.Tag)
}

// Message is one payload in flight.
type Message struct {
	Key
	Data []byte `msgpack:"d"`
}

// Transport is the substrate interface. Ranks are world ranks
// in [0, Size()). All methods are safe for concurrent use.
type Transport interface {

	// Rank returns the world rank of this endpoint.
	Rank() int

	// Size returns the number of ranks in the world.
	Size() int

	// Send delivers msg to dest without waiting for a matching receive.
	// msg.Source must be Rank(). The transport does not retain msg.Data
	// after Send returns.
	Send(ctx context.Context, dest int, msg Message) error

	// Recv blocks until a message matching key arrives, ctx is done
	// or the transport is closed.
	Recv(ctx context.Context, key Key) ([]byte, error)

	// Discard drops all queued messages of the given context.
	// It is called when a context is released.
	Discard(context string)

	// Close shuts the endpoint down. Blocked receives return [ErrClosed].
	Close() error
}

// checkSend validates the common preconditions of Send.
func checkSend(tr Transport, dest int, msg Message) error {
	if dest < 0 || dest >= tr.Size() {
		return fmt.Errorf("%w: destination %d, size %d", ErrRank, dest, tr.Size())
	}
	if msg.Source != tr.Rank() {
		return fmt.Errorf("%w: message source %d sent from rank %d", ErrRank, msg.Source, tr.Rank())
	}
	return nil
}
