// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxFIFO(t *testing.T) {
	mb := NewMailbox()
	k := Key{Context: "w", Source: 1, Tag: 7}
	other := Key{Context: "w", Source: 2, Tag: 7}
	assert.True(t, mb.Deliver(k, []byte("a")))
	assert.True(t, mb.Deliver(other, []byte("x")))
	assert.True(t, mb.Deliver(k, []byte("b")))
	assert.Equal(t, 3, mb.Pending())

	ctx := context.Background()
	for _, want := range []string{"a", "b"} {
		got, err := mb.Take(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
	got, err := mb.Take(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
	assert.Equal(t, 0, mb.Pending())
}

func TestMailboxBlockingTake(t *testing.T) {
	mb := NewMailbox()
	k := Key{Context: "w", Source: 0, Tag: 1}
	done := make(chan []byte)
	go func() {
		b, err := mb.Take(context.Background(), k)
		assert.NoError(t, err)
		done <- b
	}()
	time.Sleep(10 * time.Millisecond)
	mb.Deliver(k, []byte{42})
	select {
	case b := <-done:
		assert.Equal(t, []byte{42}, b)
	case <-time.After(5 * time.Second):
		t.Fatal("Take did not wake up")
	}
}

func TestMailboxCancelAndClose(t *testing.T) {
	mb := NewMailbox()
	k := Key{Context: "w", Source: 0, Tag: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := mb.Take(ctx, k)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	errc := make(chan error)
	go func() {
		_, err := mb.Take(context.Background(), k)
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	mb.Close(nil)
	assert.ErrorIs(t, <-errc, ErrClosed)
	assert.False(t, mb.Deliver(k, nil))
	mb.Close(nil)
}

func TestMailboxDiscard(t *testing.T) {
	mb := NewMailbox()
	mb.Deliver(Key{Context: "a", Tag: 1}, []byte{1})
	mb.Deliver(Key{Context: "a", Tag: 2}, []byte{2})
	mb.Deliver(Key{Context: "b", Tag: 1}, []byte{3})
	mb.Discard("a")
	assert.Equal(t, 1, mb.Pending())

	assert.True(t, mb.Deliver(Key{Context: "a", Tag: 3}, []byte{4}))
	assert.Equal(t, 1, mb.Pending())
	assert.Len(t, mb.queues, 1)
	assert.True(t, mb.Deliver(Key{Context: "b", Tag: 2}, []byte{5}))
	assert.Equal(t, 2, mb.Pending())
}
