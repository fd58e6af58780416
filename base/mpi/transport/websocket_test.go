// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// newMesh starts n websocket endpoints on loopback ports.
func newMesh(t *testing.T, n int) []*WebSocket {
	t.Helper()
	lns := make([]net.Listener, n)
	addrs := make([]string, n)
	for i := range lns {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		lns[i] = ln
		addrs[i] = ln.Addr().String()
	}
	eps := make([]*WebSocket, n)
	var g errgroup.Group
	for i := range eps {
		g.Go(func() error {
			ep, err := NewWebSocket(context.Background(), Options{Rank: i, Addrs: addrs, Timeout: 10 * time.Second}, lns[i])
			eps[i] = ep
			return err
		})
	}
	require.NoError(t, g.Wait())
	t.Cleanup(func() {
		for _, ep := range eps {
			ep.Close()
		}
	})
	return eps
}

func TestWebSocketMesh(t *testing.T) {
	eps := newMesh(t, 3)
	ctx := context.Background()
	for i, ep := range eps {
		assert.Equal(t, i, ep.Rank())
		assert.Equal(t, 3, ep.Size())
	}

	// every rank sends its rank to every rank, including itself
	for _, ep := range eps {
		for d := range eps {
			k := Key{Context: "w", Source: ep.Rank(), Tag: 3}
			require.NoError(t, ep.Send(ctx, d, Message{Key: k, Data: []byte{byte(ep.Rank()), byte(d)}}))
		}
	}
	for _, ep := range eps {
		for s := range eps {
			got, err := ep.Recv(ctx, Key{Context: "w", Source: s, Tag: 3})
			require.NoError(t, err)
			assert.Equal(t, []byte{byte(s), byte(ep.Rank())}, got)
		}
	}
}

func TestWebSocketOrdering(t *testing.T) {
	eps := newMesh(t, 2)
	ctx := context.Background()
	k := Key{Context: "w", Source: 0, Tag: 1}
	for i := range 50 {
		require.NoError(t, eps[0].Send(ctx, 1, Message{Key: k, Data: []byte{byte(i)}}))
	}
	for i := range 50 {
		got, err := eps[1].Recv(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, got)
	}
}

func TestWebSocketSingle(t *testing.T) {
	eps := newMesh(t, 1)
	ctx := context.Background()
	k := Key{Context: "w", Source: 0, Tag: 1}
	require.NoError(t, eps[0].Send(ctx, 0, Message{Key: k, Data: []byte("x")}))
	got, err := eps[0].Recv(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
}

func TestHelloCheck(t *testing.T) {
	own := localHello(0, 2)
	peer := localHello(1, 2)
	assert.NoError(t, peer.check(own))

	bad := peer
	bad.Version = "2.1.0"
	assert.ErrorIs(t, bad.check(own), ErrHandshake)

	bad = peer
	bad.Version = "not-a-version"
	assert.ErrorIs(t, bad.check(own), ErrHandshake)

	bad = peer
	bad.Size = 3
	assert.ErrorIs(t, bad.check(own), ErrHandshake)

	bad = peer
	bad.Rank = 0
	assert.ErrorIs(t, bad.check(own), ErrHandshake)

	bad = peer
	bad.IntSize = 16
	assert.ErrorIs(t, bad.check(own), ErrHandshake)

	minor := peer
	minor.Version = "1.4.2"
	assert.NoError(t, minor.check(own))
}

func TestWebSocketBadOptions(t *testing.T) {
	_, err := NewWebSocket(context.Background(), Options{}, nil)
	assert.Error(t, err)
	_, err = NewWebSocket(context.Background(), Options{Rank: 2, Addrs: []string{"127.0.0.1:0"}}, nil)
	assert.ErrorIs(t, err, ErrRank)
}
