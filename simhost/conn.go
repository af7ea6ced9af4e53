package simhost

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"simlink/codec"
	"simlink/message"
	"simlink/middleware"
	"simlink/protocol"
)

const writeTimeout = 5 * time.Second

// Conn is one client connection. Frames are read and handled in order by a
// single goroutine; replies and stream data share the write lock.
type Conn struct {
	srv    *Server
	nc     net.Conn
	logger *zap.Logger
	send   middleware.SendFunc

	writeMu  sync.Mutex
	packetID uint32 // guarded by writeMu

	closeOnce sync.Once
	closed    chan struct{}

	mu        sync.Mutex
	opened    bool
	appName   string
	defs      map[uint32][]codec.Field
	events    map[uint32]string // client event ID -> host event name
	sysEvents map[uint32]string // client event ID -> system event name
	streams   map[uint32]*stream
}

type stream struct {
	stop chan struct{}
	once sync.Once
}

func (st *stream) halt() {
	st.once.Do(func() { close(st.stop) })
}

func newConn(srv *Server, nc net.Conn) *Conn {
	c := &Conn{
		srv:       srv,
		nc:        nc,
		logger:    srv.logger.With(zap.String("remote", nc.RemoteAddr().String())),
		closed:    make(chan struct{}),
		defs:      make(map[uint32][]codec.Field),
		events:    make(map[uint32]string),
		sysEvents: make(map[uint32]string),
		streams:   make(map[uint32]*stream),
	}
	c.send = middleware.Chain(srv.middlewares...)(c.writeStamped)
	return c
}

// AppName is the name the client sent in Open.
func (c *Conn) AppName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appName
}

// World is the server's shared world.
func (c *Conn) World() *World {
	return c.srv.world
}

func (c *Conn) readLoop() {
	defer c.Close()
	for {
		f, err := protocol.ReadFrame(c.nc, c.srv.opts.MaxBodySize)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		c.srv.opts.Metrics.RecordFrameReceived(f.Header.Opcode)
		c.handle(f)
	}
}

func (c *Conn) handle(f protocol.Frame) {
	op, pid := f.Header.Opcode, f.Header.PacketID
	if op == protocol.OpHeartbeat {
		return
	}
	if op.FromHost() {
		c.Exception(protocol.ExceptionError, pid, 0)
		return
	}
	req, err := message.DecodeRequest(op, f.Body)
	if err != nil {
		c.logger.Debug("bad request body", zap.Stringer("opcode", op), zap.Error(err))
		c.Exception(protocol.ExceptionDataError, pid, 0)
		return
	}
	if op != protocol.OpOpen {
		c.mu.Lock()
		opened := c.opened
		c.mu.Unlock()
		if !opened {
			c.Exception(protocol.ExceptionUnopened, pid, 0)
			return
		}
	}
	h, ok := c.srv.handlers[op]
	if !ok {
		c.Exception(protocol.ExceptionError, pid, 0)
		return
	}
	h(c, pid, req)
}

// Send writes one host message through the outbound middleware chain.
func (c *Conn) Send(msg message.Request) error {
	select {
	case <-c.closed:
		return protocol.ErrConnectionClosed
	default:
	}
	body, err := message.Marshal(msg)
	if err != nil {
		return err
	}
	f := &protocol.Frame{
		Header: protocol.Header{Opcode: msg.Opcode()},
		Body:   body,
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err = c.send(ctx, f); err != nil {
		c.logger.Debug("send failed", zap.Stringer("opcode", f.Header.Opcode), zap.Error(err))
	}
	return err
}

// Exception reports a rejected frame back to the client.
func (c *Conn) Exception(code protocol.ExceptionCode, sendID, index uint32) {
	c.srv.opts.Metrics.RecordException(code)
	_ = c.Send(&message.RecvException{Exception: code, SendID: sendID, Index: index})
}

func (c *Conn) writeStamped(ctx context.Context, f *protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.packetID++
	f.Header.PacketID = c.packetID
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.nc.SetWriteDeadline(deadline)
	}
	if err := protocol.EncodeFrame(c.nc, f); err != nil {
		return err
	}
	c.srv.opts.Metrics.RecordFrameSent(f.Header.Opcode)
	return nil
}

// Close stops every stream and closes the socket.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		for id, st := range c.streams {
			st.halt()
			delete(c.streams, id)
		}
		c.mu.Unlock()
		c.nc.Close()
	})
}

// stopStream ends the periodic request requestID, if any.
func (c *Conn) stopStream(requestID uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.streams[requestID]
	if ok {
		st.halt()
		delete(c.streams, requestID)
	}
	return ok
}

// startStream replaces any stream with the same request ID and sends the
// first sample right away.
func (c *Conn) startStream(req *message.RequestDataOnSimObject, fields []codec.Field, every time.Duration) {
	st := &stream{stop: make(chan struct{})}
	c.mu.Lock()
	if old, ok := c.streams[req.RequestID]; ok {
		old.halt()
	}
	c.streams[req.RequestID] = st
	c.mu.Unlock()

	c.srv.wg.Add(1)
	go func() {
		defer c.srv.wg.Done()
		c.runStream(st, *req, fields, every)
	}()
}

func (c *Conn) runStream(st *stream, req message.RequestDataOnSimObject, fields []codec.Field, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var last []byte
	var sent uint32
	for {
		data, err := c.srv.world.Read(req.ObjectID, fields)
		if err != nil {
			// The object went away under the stream.
			c.stopStream(req.RequestID)
			return
		}
		changedOnly := req.Flags&message.DataRequestFlagChanged != 0
		if !changedOnly || last == nil || !bytes.Equal(last, data) {
			last = data
			if c.Send(dataReply(&req, data)) != nil {
				return
			}
			sent++
			if req.Limit > 0 && sent >= req.Limit {
				c.stopStream(req.RequestID)
				return
			}
		}

		select {
		case <-ticker.C:
		case <-st.stop:
			return
		case <-c.closed:
			return
		}
	}
}

func dataReply(req *message.RequestDataOnSimObject, data []byte) *message.RecvSimObjectData {
	return &message.RecvSimObjectData{
		RequestID:   req.RequestID,
		ObjectID:    req.ObjectID,
		DefineID:    req.DefineID,
		Flags:       req.Flags,
		EntryNumber: 1,
		OutOf:       1,
		DefineCount: 1,
		Data:        data,
	}
}

// fireSystemEvent sends RecvEvent for every client event ID subscribed to
// name. It reports whether anything was sent.
func (c *Conn) fireSystemEvent(name string, data uint32) bool {
	c.mu.Lock()
	var ids []uint32
	for id, n := range c.sysEvents {
		if n == name {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	sent := false
	for _, id := range ids {
		if c.Send(&message.RecvEvent{EventID: id, Data: data}) == nil {
			sent = true
		}
	}
	return sent
}
