package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"simlink/middleware"
	"simlink/protocol"
)

func pipe(t *testing.T, opts Options) (*ClientTransport, net.Conn) {
	t.Helper()
	client, host := net.Pipe()
	opts.Logger = zaptest.NewLogger(t)
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = -1
	}
	tr := New(client, opts)
	t.Cleanup(func() {
		tr.Close()
		host.Close()
	})
	return tr, host
}

func TestSendStampsIncreasingPacketIDs(t *testing.T) {
	tr, host := pipe(t, Options{})

	got := make(chan protocol.Frame, 3)
	go func() {
		for i := 0; i < 3; i++ {
			f, err := protocol.ReadFrame(host, protocol.DefaultMaxBodySize)
			if err != nil {
				return
			}
			got <- f
		}
	}()

	for i := 1; i <= 3; i++ {
		id, err := tr.Send(context.Background(), protocol.OpOpen, []byte{byte(i)})
		require.NoError(t, err)
		assert.Equal(t, uint32(i), id)
	}
	for i := 1; i <= 3; i++ {
		f := <-got
		assert.Equal(t, uint32(i), f.Header.PacketID)
		assert.Equal(t, []byte{byte(i)}, f.Body)
	}
}

func TestConcurrentSendsNeverInterleave(t *testing.T) {
	tr, host := pipe(t, Options{})
	const n = 50

	seen := make(chan uint32, n)
	go func() {
		for i := 0; i < n; i++ {
			f, err := protocol.ReadFrame(host, protocol.DefaultMaxBodySize)
			if err != nil {
				return
			}
			seen <- f.Header.PacketID
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.Send(context.Background(), protocol.OpTransmitClientEvent, make([]byte, 20))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	ids := map[uint32]bool{}
	var last uint32
	for i := 0; i < n; i++ {
		id := <-seen
		assert.Greater(t, id, last, "packet IDs are written in stamp order")
		last = id
		ids[id] = true
	}
	assert.Len(t, ids, n)
}

func TestFramesDeliversInOrderAndSkipsHeartbeats(t *testing.T) {
	tr, host := pipe(t, Options{})

	go func() {
		_ = protocol.Encode(host, &protocol.Header{Opcode: protocol.OpRecvOpen, PacketID: 1}, nil)
		_ = protocol.Encode(host, &protocol.Header{Opcode: protocol.OpHeartbeat}, nil)
		_ = protocol.Encode(host, &protocol.Header{Opcode: protocol.OpRecvEvent, PacketID: 2, BodyLen: 1}, []byte{9})
	}()

	f := <-tr.Frames()
	assert.Equal(t, protocol.OpRecvOpen, f.Header.Opcode)
	f = <-tr.Frames()
	assert.Equal(t, protocol.OpRecvEvent, f.Header.Opcode)
	assert.Equal(t, []byte{9}, f.Body)
}

func TestPeerCloseEndsFrames(t *testing.T) {
	tr, host := pipe(t, Options{})
	host.Close()

	_, ok := <-tr.Frames()
	assert.False(t, ok)
	assert.ErrorIs(t, tr.Err(), protocol.ErrConnectionClosed)

	_, err := tr.Send(context.Background(), protocol.OpOpen, nil)
	assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	tr, _ := pipe(t, Options{})
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	select {
	case _, ok := <-tr.Frames():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("frames not closed")
	}
	select {
	case <-tr.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestSendRejectsOversizedBody(t *testing.T) {
	tr, _ := pipe(t, Options{MaxBodySize: 8})
	_, err := tr.Send(context.Background(), protocol.OpSetDataOnSimObject, make([]byte, 9))
	assert.ErrorIs(t, err, protocol.ErrFrameTooLarge)
}

func TestOversizedInboundFrameFailsTransport(t *testing.T) {
	tr, host := pipe(t, Options{MaxBodySize: 8})
	go func() {
		_ = protocol.Encode(host, &protocol.Header{Opcode: protocol.OpRecvEvent, BodyLen: 16}, make([]byte, 16))
	}()

	_, ok := <-tr.Frames()
	assert.False(t, ok)
	assert.ErrorIs(t, tr.Err(), protocol.ErrFrameTooLarge)
}

func TestSendHonoursContextWhileBlocked(t *testing.T) {
	// Nobody reads the host side, so the pipe write blocks until the deadline.
	tr, _ := pipe(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := tr.Send(ctx, protocol.OpOpen, []byte("x"))
	assert.Error(t, err)
	// The half-written stream is unusable afterwards.
	assert.Error(t, tr.Err())
}

func TestMiddlewareSeesPacketID(t *testing.T) {
	var seen uint32
	spy := func(next middleware.SendFunc) middleware.SendFunc {
		return func(ctx context.Context, f *protocol.Frame) error {
			err := next(ctx, f)
			seen = f.Header.PacketID
			return err
		}
	}
	tr, host := pipe(t, Options{Middlewares: []middleware.Middleware{spy}})
	go func() { _, _ = protocol.ReadFrame(host, protocol.DefaultMaxBodySize) }()

	id, err := tr.Send(context.Background(), protocol.OpOpen, nil)
	require.NoError(t, err)
	assert.Equal(t, id, seen)
}

func TestHeartbeat(t *testing.T) {
	tr, host := pipe(t, Options{HeartbeatInterval: 20 * time.Millisecond})
	_ = tr

	f, err := protocol.ReadFrame(host, protocol.DefaultMaxBodySize)
	require.NoError(t, err)
	assert.Equal(t, protocol.OpHeartbeat, f.Header.Opcode)
	assert.Zero(t, f.Header.PacketID)
}

func TestDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(context.Background(), addr, Options{DialTimeout: time.Second})
	var connErr *protocol.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, addr, connErr.Endpoint)
}

func TestDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	tr, err := Dial(context.Background(), ln.Addr().String(), Options{HeartbeatInterval: -1})
	require.NoError(t, err)
	defer tr.Close()

	host := <-accepted
	defer host.Close()
	go func() { _, _ = tr.Send(context.Background(), protocol.OpOpen, []byte("hi")) }()
	f, err := protocol.ReadFrame(host, protocol.DefaultMaxBodySize)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), f.Body)
}
