package session

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"simlink/codec"
	"simlink/message"
	"simlink/protocol"
	"simlink/simhost"
	"simlink/transport"
)

// fakeHost is a scripted host on the far end of a net.Pipe. It answers Open
// (unless onOpen says otherwise) and queues every other frame for the test.
type fakeHost struct {
	t      *testing.T
	conn   net.Conn
	frames chan protocol.Frame
	onOpen func(h *fakeHost, f protocol.Frame)

	mu   sync.Mutex
	next uint32
}

func answerOpen(h *fakeHost, _ protocol.Frame) {
	h.reply(&message.RecvOpen{ApplicationName: "fake host", ProtocolVersion: message.ProtocolVersion})
}

func newFakeHost(t *testing.T, conn net.Conn, onOpen func(*fakeHost, protocol.Frame)) *fakeHost {
	h := &fakeHost{t: t, conn: conn, frames: make(chan protocol.Frame, 1024), onOpen: onOpen}
	go h.readLoop()
	t.Cleanup(func() { conn.Close() })
	return h
}

func (h *fakeHost) readLoop() {
	defer close(h.frames)
	for {
		f, err := protocol.ReadFrame(h.conn, protocol.DefaultMaxBodySize)
		if err != nil {
			return
		}
		if f.Header.Opcode == protocol.OpOpen && h.onOpen != nil {
			h.onOpen(h, f)
			continue
		}
		h.frames <- f
	}
}

// reply writes a host message and returns its packet ID.
func (h *fakeHost) reply(msg message.Request) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	body, err := message.Marshal(msg)
	require.NoError(h.t, err)
	f := &protocol.Frame{
		Header: protocol.Header{Opcode: msg.Opcode(), PacketID: h.next},
		Body:   body,
	}
	if err := protocol.EncodeFrame(h.conn, f); err != nil {
		h.t.Logf("fake host write: %v", err)
	}
	return h.next
}

// expect returns the next client frame, which must carry op.
func (h *fakeHost) expect(op protocol.Opcode) (protocol.Frame, message.Request) {
	h.t.Helper()
	select {
	case f, ok := <-h.frames:
		require.True(h.t, ok, "connection closed while waiting for %s", op)
		require.Equal(h.t, op, f.Header.Opcode)
		req, err := message.DecodeRequest(f.Header.Opcode, f.Body)
		require.NoError(h.t, err)
		return f, req
	case <-time.After(2 * time.Second):
		h.t.Fatalf("no %s frame", op)
		return protocol.Frame{}, nil
	}
}

// data answers requestID with values packed against fields.
func (h *fakeHost) data(requestID, defID uint32, fields []codec.Field, values ...any) {
	h.t.Helper()
	block, err := codec.PackValues(fields, values)
	require.NoError(h.t, err)
	h.reply(&message.RecvSimObjectData{
		RequestID: requestID, DefineID: defID, EntryNumber: 1, OutOf: 1, DefineCount: 1, Data: block,
	})
}

// pipeSession opens a session against a fakeHost.
func pipeSession(t *testing.T, opts Options) (*Session, *fakeHost) {
	t.Helper()
	client, server := net.Pipe()
	host := newFakeHost(t, server, answerOpen)
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	opts.Transport.HeartbeatInterval = -1
	tr := transport.New(client, opts.Transport)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := NewSession(ctx, tr, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, host
}

// hostSession opens a session against an in-process simulated host.
func hostSession(t *testing.T, hostOpts simhost.Options, opts Options) (*Session, *simhost.Server) {
	t.Helper()
	if hostOpts.Logger == nil {
		hostOpts.Logger = zaptest.NewLogger(t).Named("host")
	}
	srv := simhost.New(hostOpts)
	addr, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := Open(ctx, addr, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, srv
}

func nextPayload(t *testing.T, sub *Subscription) any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := sub.Next(ctx)
	require.NoError(t, err)
	return v
}
