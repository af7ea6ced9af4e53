// Package transport owns the byte stream to a simulation host.
//
// A ClientTransport frames outbound messages and turns the inbound byte
// stream into a sequence of frames. It does not correlate replies with
// requests; that is the session's job. One goroutine reads, so frame
// boundaries are parsed strictly in arrival order; writers share one conn and
// serialise on a write lock so frames never interleave.
//
//	Send(op, body) ──► middleware chain ──► stamp packetID ──► conn
//	conn ──► recvLoop ──► Frames() ──► session dispatcher
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"simlink/metrics"
	"simlink/middleware"
	"simlink/protocol"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultDialTimeout       = 5 * time.Second
	defaultFrameBuffer       = 64
)

// Options configures a ClientTransport. The zero value is usable.
type Options struct {
	// HeartbeatInterval between OpHeartbeat frames. Negative disables them;
	// zero means DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration
	// MaxBodySize bounds inbound and outbound bodies. Zero means
	// protocol.DefaultMaxBodySize.
	MaxBodySize uint32
	DialTimeout time.Duration
	// Middlewares wrap every Send, outermost first. Heartbeats bypass them.
	Middlewares []middleware.Middleware
	Logger      *zap.Logger
	Metrics     *metrics.Collector
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.MaxBodySize == 0 {
		o.MaxBodySize = protocol.DefaultMaxBodySize
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// ClientTransport manages a single connection to a host.
type ClientTransport struct {
	conn   net.Conn
	opts   Options
	logger *zap.Logger

	// writeLock is a one-slot semaphore rather than a mutex so a sender can
	// give up waiting for it when its ctx ends.
	writeLock chan struct{}
	packetID  uint32 // last stamped ID, guarded by writeLock
	send      middleware.SendFunc

	frames    chan protocol.Frame
	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// Dial connects to endpoint ("host:port") over TCP. A failure is reported as
// a *protocol.ConnectionError.
func Dial(ctx context.Context, endpoint string, opts Options) (*ClientTransport, error) {
	opts = opts.withDefaults()
	dialer := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint)
	if err != nil {
		return nil, &protocol.ConnectionError{Endpoint: endpoint, Err: err}
	}
	opts.Logger.Debug("transport connected", zap.String("endpoint", endpoint))
	return New(conn, opts), nil
}

// New wraps an established connection and starts two background goroutines:
// recvLoop, which frames the inbound stream, and heartbeatLoop.
func New(conn net.Conn, opts Options) *ClientTransport {
	opts = opts.withDefaults()
	t := &ClientTransport{
		conn:      conn,
		opts:      opts,
		logger:    opts.Logger.With(zap.String("remote", remoteAddr(conn))),
		writeLock: make(chan struct{}, 1),
		frames:    make(chan protocol.Frame, defaultFrameBuffer),
		done:      make(chan struct{}),
	}
	t.send = middleware.Chain(opts.Middlewares...)(t.writeStamped)

	go t.recvLoop()
	if opts.HeartbeatInterval > 0 {
		go t.heartbeatLoop(opts.HeartbeatInterval)
	}
	return t
}

func remoteAddr(conn net.Conn) string {
	if a := conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// RemoteAddr is the address of the host end of the connection.
func (t *ClientTransport) RemoteAddr() string {
	return remoteAddr(t.conn)
}

// Send writes one frame and returns the packet ID it was stamped with. The
// host echoes that ID as the send ID of any exception the frame causes.
func (t *ClientTransport) Send(ctx context.Context, op protocol.Opcode, body []byte) (uint32, error) {
	if t.closed() {
		return 0, protocol.ErrConnectionClosed
	}
	if uint32(len(body)) > t.opts.MaxBodySize {
		return 0, fmt.Errorf("%w: %s body is %d bytes (limit %d)", protocol.ErrFrameTooLarge, op, len(body), t.opts.MaxBodySize)
	}

	f := &protocol.Frame{
		Header: protocol.Header{Opcode: op, BodyLen: uint32(len(body))},
		Body:   body,
	}
	if err := t.send(ctx, f); err != nil {
		return 0, err
	}
	return f.Header.PacketID, nil
}

// writeStamped is the innermost SendFunc: it takes the write lock, stamps the
// next packet ID and writes the frame.
func (t *ClientTransport) writeStamped(ctx context.Context, f *protocol.Frame) error {
	return t.write(ctx, f, true)
}

func (t *ClientTransport) write(ctx context.Context, f *protocol.Frame, stamp bool) error {
	select {
	case t.writeLock <- struct{}{}:
	case <-t.done:
		return protocol.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-t.writeLock }()

	if t.closed() {
		return protocol.ErrConnectionClosed
	}

	if stamp {
		t.packetID++
		f.Header.PacketID = t.packetID
	}

	deadline, _ := ctx.Deadline()
	_ = t.conn.SetWriteDeadline(deadline)

	if err := protocol.EncodeFrame(t.conn, f); err != nil {
		// A partial write leaves the stream unframeable; give up on it.
		t.fail(fmt.Errorf("write %s: %w", f.Header.Opcode, err))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return protocol.ErrConnectionClosed
	}
	return nil
}

// Frames is the inbound frame sequence. It is closed exactly once, when the
// stream ends for any reason; Err then reports why. Heartbeats are consumed
// by the transport and never appear here.
func (t *ClientTransport) Frames() <-chan protocol.Frame {
	return t.frames
}

// Done is closed when the transport shuts down.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.done
}

// Err returns the reason the transport stopped, or nil while it is running.
func (t *ClientTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// Close shuts the connection. Safe to call more than once.
func (t *ClientTransport) Close() error {
	t.fail(protocol.ErrConnectionClosed)
	return nil
}

func (t *ClientTransport) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// fail records the first terminal error and tears the connection down.
func (t *ClientTransport) fail(err error) {
	t.closeOnce.Do(func() {
		t.errMu.Lock()
		t.err = err
		t.errMu.Unlock()
		close(t.done)
		t.conn.Close()
		if errors.Is(err, protocol.ErrConnectionClosed) {
			t.logger.Debug("transport closed")
		} else {
			t.logger.Warn("transport failed", zap.Error(err))
		}
	})
}

// recvLoop runs in a dedicated goroutine, reading frames until the stream
// breaks or the transport is closed. TCP is a byte stream, so only one reader
// can find the frame boundaries.
func (t *ClientTransport) recvLoop() {
	defer close(t.frames)
	for {
		h, body, err := protocol.DecodeLimit(t.conn, t.opts.MaxBodySize)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				err = protocol.ErrConnectionClosed
			} else {
				err = fmt.Errorf("read frame: %w", err)
			}
			t.fail(err)
			return
		}

		t.opts.Metrics.RecordFrameReceived(h.Opcode)
		if h.Opcode == protocol.OpHeartbeat {
			continue
		}

		select {
		case t.frames <- protocol.Frame{Header: *h, Body: body}:
		case <-t.done:
			return
		}
	}
}

// heartbeatLoop writes an empty OpHeartbeat frame every interval so an idle
// connection is noticed by the host. Heartbeats carry packet ID 0 and skip
// the middleware chain.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := t.write(ctx, &protocol.Frame{Header: protocol.Header{Opcode: protocol.OpHeartbeat}}, false)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
