// Copyright (c) 2025, Cogent Core. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"cogentcore.org/hpc/base/errors"
	"github.com/Masterminds/semver/v3"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"
)

// ProtocolVersion is the wire protocol version announced in the
// handshake. Peers must share the major version.
const ProtocolVersion = "1.0.0"

// Options configures a [WebSocket] endpoint.
type Options struct {

	// Rank is the world rank of this endpoint.
	Rank int

	// Addrs are the host:port listen addresses of all ranks, indexed by rank.
	Addrs []string

	// Path is the HTTP path serving the websocket endpoint.
	Path string

	// Timeout bounds the time to establish the full mesh.
	Timeout time.Duration
}

// Defaults fills in unset fields.
func (o *Options) Defaults() {
	if o.Path == "" {
		o.Path = "/mpi"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
}

// hello is exchanged in both directions when a connection opens.
type hello struct {
	Rank      int    `msgpack:"rank"`
	Size      int    `msgpack:"size"`
	Version   string `msgpack:"version"`
	IntSize   int    `msgpack:"int"`
	BigEndian bool   `msgpack:"be"`
}

func localHello(rank, size int) hello {
	return hello{
		Rank:      rank,
		Size:      size,
		Version:   ProtocolVersion,
		IntSize:   strconv.IntSize,
		BigEndian: binary.NativeEndian.Uint16([]byte{0, 1}) == 1,
	}
}

// check validates a peer hello against ours. Payloads are native
// memory images, so peers must agree on word size and byte order.
func (h hello) check(own hello) error {
	v, err := semver.NewVersion(h.Version)
	if err != nil {
		return fmt.Errorf("%w: rank %d version %q: %v", ErrHandshake, h.Rank, h.Version, err)
	}
	ov := semver.MustParse(own.Version)
	c, err := semver.NewConstraint("^" + strconv.FormatUint(ov.Major(), 10))
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: rank %d speaks protocol %s, want %s", ErrHandshake, h.Rank, h.Version, c)
	}
	if h.Size != own.Size {
		return fmt.Errorf("%w: rank %d has world size %d, want %d", ErrHandshake, h.Rank, h.Size, own.Size)
	}
	if h.Rank < 0 || h.Rank >= own.Size || h.Rank == own.Rank {
		return fmt.Errorf("%w: invalid peer rank %d", ErrHandshake, h.Rank)
	}
	if h.IntSize != own.IntSize || h.BigEndian != own.BigEndian {
		return fmt.Errorf("%w: rank %d has a different architecture (int %d bits, big endian %v)", ErrHandshake, h.Rank, h.IntSize, h.BigEndian)
	}
	return nil
}

// peer is an outbound connection; gorilla connections
// support one concurrent writer.
type peer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// WebSocket is a transport endpoint in a mesh of processes connected
// by websockets. Every rank serves [Options.Path] and dials every other
// rank, so each ordered pair of ranks has its own connection; frames
// are msgpack-encoded [Message] values.
type WebSocket struct {
	opts  Options
	own   hello
	box   *Mailbox
	ln    net.Listener
	srv   *http.Server
	peers []*peer

	mu       sync.Mutex
	inbound  map[int]*websocket.Conn
	ready    chan struct{}
	readers  sync.WaitGroup
	closed   atomic.Bool
	upgrader websocket.Upgrader
}

// NewWebSocket creates the endpoint for opts.Rank and blocks until
// connections to and from all other ranks are established, or until
// ctx is done or opts.Timeout elapses. If ln is nil, it listens on
// opts.Addrs[opts.Rank].
func NewWebSocket(ctx context.Context, opts Options, ln net.Listener) (*WebSocket, error) {
	opts.Defaults()
	n := len(opts.Addrs)
	if n == 0 {
		return nil, errors.New("transport.NewWebSocket: no addresses")
	}
	if opts.Rank < 0 || opts.Rank >= n {
		return nil, fmt.Errorf("%w: rank %d, size %d", ErrRank, opts.Rank, n)
	}
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", opts.Addrs[opts.Rank])
		if err != nil {
			return nil, fmt.Errorf("transport: listen on %s: %w", opts.Addrs[opts.Rank], err)
		}
	}
	ws := &WebSocket{
		opts:    opts,
		own:     localHello(opts.Rank, n),
		box:     NewMailbox(),
		ln:      ln,
		peers:   make([]*peer, n),
		inbound: make(map[int]*websocket.Conn),
		ready:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 64 << 10,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if n == 1 {
		close(ws.ready)
	}
	mux := http.NewServeMux()
	mux.HandleFunc(opts.Path, ws.serve)
	ws.srv = &http.Server{Handler: mux, ReadHeaderTimeout: opts.Timeout}
	go func() {
		if err := ws.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errors.Log(fmt.Errorf("transport: rank %d serve: %w", opts.Rank, err))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := ws.connect(ctx); err != nil {
		ws.Close()
		return nil, err
	}
	select {
	case <-ws.ready:
	case <-ctx.Done():
		ws.Close()
		return nil, fmt.Errorf("transport: rank %d waiting for inbound connections: %w", opts.Rank, ctx.Err())
	}
	slog.Debug("transport: websocket mesh ready", "rank", opts.Rank, "size", n, "addr", ln.Addr().String())
	return ws, nil
}

// connect dials all other ranks concurrently.
func (ws *WebSocket) connect(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for r := range ws.opts.Addrs {
		if r == ws.opts.Rank {
			continue
		}
		g.Go(func() error {
			conn, err := ws.dial(ctx, r)
			if err != nil {
				return err
			}
			ws.peers[r] = &peer{conn: conn}
			return nil
		})
	}
	return g.Wait()
}

// dial connects to rank r, retrying until ctx is done
// since peers may start in any order.
func (ws *WebSocket) dial(ctx context.Context, r int) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: ws.opts.Addrs[r], Path: ws.opts.Path}
	delay := 10 * time.Millisecond
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err == nil {
			if err := ws.handshake(conn, r); err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transport: rank %d dial rank %d at %s: %w", ws.opts.Rank, r, u.String(), err)
		case <-time.After(delay):
		}
		delay = min(2*delay, 500*time.Millisecond)
	}
}

// handshake runs the dialing side of the hello exchange.
func (ws *WebSocket) handshake(conn *websocket.Conn, r int) error {
	if err := writeHello(conn, ws.own); err != nil {
		return err
	}
	h, err := readHello(conn)
	if err != nil {
		return err
	}
	if err := h.check(ws.own); err != nil {
		return err
	}
	if h.Rank != r {
		return fmt.Errorf("%w: %s answered as rank %d, want %d", ErrHandshake, ws.opts.Addrs[r], h.Rank, r)
	}
	return nil
}

// serve accepts one inbound connection and reads frames from it
// into the mailbox until the connection closes.
func (ws *WebSocket) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		errors.Log(err)
		return
	}
	h, err := readHello(conn)
	if err == nil {
		err = h.check(ws.own)
	}
	if err == nil {
		err = ws.register(h.Rank, conn)
	}
	if err != nil {
		errors.Log(fmt.Errorf("transport: rank %d rejected connection from %s: %w", ws.opts.Rank, r.RemoteAddr, err))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		conn.Close()
		return
	}
	defer ws.readers.Done()
	if err := writeHello(conn, ws.own); err != nil {
		errors.Log(err)
		conn.Close()
		return
	}
	ws.read(h.Rank, conn)
}

// register records an inbound connection; on success the caller
// owns one count of ws.readers.
func (ws *WebSocket) register(rank int, conn *websocket.Conn) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed.Load() {
		return ErrClosed
	}
	if _, dup := ws.inbound[rank]; dup {
		return fmt.Errorf("%w: rank %d connected twice", ErrHandshake, rank)
	}
	ws.inbound[rank] = conn
	ws.readers.Add(1)
	if len(ws.inbound) == len(ws.opts.Addrs)-1 {
		close(ws.ready)
	}
	return nil
}

func (ws *WebSocket) read(rank int, conn *websocket.Conn) {
	for {
		typ, b, err := conn.ReadMessage()
		if err != nil {
			if ws.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			ws.box.Close(fmt.Errorf("transport: rank %d lost connection from rank %d: %w", ws.opts.Rank, rank, err))
			errors.Log(err)
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		var msg Message
		if err := msgpack.Unmarshal(b, &msg); err != nil {
			errors.Log(fmt.Errorf("transport: rank %d bad frame from rank %d: %w", ws.opts.Rank, rank, err))
			continue
		}
		if msg.Source != rank {
			errors.Log(fmt.Errorf("transport: rank %d got frame claiming source %d on connection from rank %d", ws.opts.Rank, msg.Source, rank))
			continue
		}
		ws.box.Deliver(msg.Key, msg.Data)
	}
}

func (ws *WebSocket) Rank() int { return ws.opts.Rank }

func (ws *WebSocket) Size() int { return len(ws.opts.Addrs) }

// Addr returns the address the endpoint listens on.
func (ws *WebSocket) Addr() net.Addr { return ws.ln.Addr() }

func (ws *WebSocket) Send(ctx context.Context, dest int, msg Message) error {
	if err := checkSend(ws, dest, msg); err != nil {
		return err
	}
	if ws.closed.Load() {
		return ErrClosed
	}
	if dest == ws.opts.Rank {
		if !ws.box.Deliver(msg.Key, slices.Clone(msg.Data)) {
			return ErrClosed
		}
		return nil
	}
	b, err := msgpack.Marshal(&msg)
	if err != nil {
		return err
	}
	p := ws.peers[dest]
	p.mu.Lock()
	defer p.mu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		p.conn.SetWriteDeadline(dl)
		defer p.conn.SetWriteDeadline(time.Time{})
	}
	if err := p.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return fmt.Errorf("transport: rank %d send to rank %d: %w", ws.opts.Rank, dest, err)
	}
	return nil
}

func (ws *WebSocket) Recv(ctx context.Context, key Key) ([]byte, error) {
	return ws.box.Take(ctx, key)
}

func (ws *WebSocket) Discard(context string) {
	ws.box.Discard(context)
}

// Close sends close frames on all outbound connections and shuts the
// server down. Callers should synchronize (e.g. with a barrier) before
// closing so that no peer is still sending.
func (ws *WebSocket) Close() error {
	if ws.closed.Swap(true) {
		return nil
	}
	var errs []error
	for _, p := range ws.peers {
		if p == nil {
			continue
		}
		p.mu.Lock()
		p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		errs = append(errs, p.conn.Close())
		p.mu.Unlock()
	}
	errs = append(errs, ws.srv.Close())
	ws.mu.Lock()
	for _, conn := range ws.inbound {
		conn.Close()
	}
	ws.mu.Unlock()
	ws.box.Close(nil)
	ws.readers.Wait()
	slog.Debug("transport: websocket endpoint closed", "rank", ws.opts.Rank)
	return errors.Join(errs...)
}

func writeHello(conn *websocket.Conn, h hello) error {
	b, err := msgpack.Marshal(&h)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, b)
}

func readHello(conn *websocket.Conn) (hello, error) {
	var h hello
	_, b, err := conn.ReadMessage()
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if err := msgpack.Unmarshal(b, &h); err != nil {
		return h, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	return h, nil
}
