// Package simhost is a simulated simulation host. It speaks the same protocol
// as a real host over TCP, keeps a small World of object variables, and is
// used by tests and by the `simlink mockhost` command.
//
// Request processing pipeline:
//
//	Accept conn → Conn.readLoop (one goroutine per connection, frames in order)
//	  → message.DecodeRequest → handler table[opcode] → replies through the
//	    outbound middleware chain → write under the per-connection lock
//
// Requests on one connection are handled strictly in order: a definition
// must be complete before the data request that uses it.
package simhost

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"simlink/discovery"
	"simlink/message"
	"simlink/metrics"
	"simlink/middleware"
	"simlink/protocol"
)

const (
	DefaultApplicationName = "simlink mock host"
	DefaultTick            = 50 * time.Millisecond
)

// Options configures a Server. The zero value is usable.
type Options struct {
	ApplicationName string
	VersionMajor    uint32
	VersionMinor    uint32
	// Tick is the period of VISUAL_FRAME and SIM_FRAME data requests.
	Tick        time.Duration
	MaxBodySize uint32
	Logger      *zap.Logger
	Metrics     *metrics.Collector

	// Discovery, when set, announces the server under HostName at
	// AdvertiseAddr (the listener address if empty) with a LeaseTTL lease.
	Discovery     discovery.Discovery
	HostName      string
	AdvertiseAddr string
	LeaseTTL      int64
}

func (o Options) withDefaults() Options {
	if o.ApplicationName == "" {
		o.ApplicationName = DefaultApplicationName
	}
	if o.VersionMajor == 0 {
		o.VersionMajor = 1
	}
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
	if o.MaxBodySize == 0 {
		o.MaxBodySize = protocol.DefaultMaxBodySize
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 10
	}
	return o
}

// Server accepts client connections and answers them from its World.
type Server struct {
	opts   Options
	logger *zap.Logger
	world  *World

	handlers    map[protocol.Opcode]Handler
	middlewares []middleware.Middleware

	listener      net.Listener
	advertiseAddr string
	wg            sync.WaitGroup // accept loop, connection and stream goroutines
	shutdown      atomic.Bool

	mu    sync.Mutex // guards conns and orders registration against shutdown
	conns map[*Conn]struct{}
}

// New creates a server with the default handler table and a fresh World.
func New(opts Options) *Server {
	opts = opts.withDefaults()
	s := &Server{
		opts:   opts,
		logger: opts.Logger,
		world:  NewWorld(),
		conns:  make(map[*Conn]struct{}),
	}
	s.handlers = defaultHandlers()
	return s
}

// World returns the state shared by every connection.
func (s *Server) World() *World {
	return s.world
}

// Use adds a middleware to the outbound chain of every connection accepted
// afterwards. Middlewares are applied in the order they are added.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Handle replaces the handler for op. Call it before Serve.
func (s *Server) Handle(op protocol.Opcode, h Handler) {
	s.handlers[op] = h
}

// Start listens on addr and serves in the background. It returns the bound
// address, which is useful with "127.0.0.1:0".
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	if err := s.announce(ln); err != nil {
		ln.Close()
		return "", err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.serve(ln); err != nil {
			s.logger.Error("mock host stopped", zap.Error(err))
		}
	}()
	return ln.Addr().String(), nil
}

// Serve accepts connections on ln until Shutdown. Shutdown waits for it to
// return.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.announce(ln); err != nil {
		return err
	}
	s.wg.Add(1)
	defer s.wg.Done()
	return s.serve(ln)
}

func (s *Server) announce(ln net.Listener) error {
	s.listener = ln
	s.advertiseAddr = s.opts.AdvertiseAddr
	if s.advertiseAddr == "" {
		s.advertiseAddr = ln.Addr().String()
	}
	if s.opts.Discovery == nil {
		return nil
	}
	instance := discovery.HostInstance{
		Addr:            s.advertiseAddr,
		Weight:          1,
		ProtocolVersion: message.ProtocolVersion,
		Simulator:       s.opts.ApplicationName,
	}
	if err := s.opts.Discovery.Register(context.Background(), s.opts.HostName, instance, s.opts.LeaseTTL); err != nil {
		return fmt.Errorf("simhost: register %s: %w", s.advertiseAddr, err)
	}
	s.logger.Info("mock host registered", zap.String("name", s.opts.HostName), zap.String("addr", s.advertiseAddr))
	return nil
}

func (s *Server) serve(ln net.Listener) error {
	s.logger.Info("mock host listening", zap.String("addr", ln.Addr().String()))
	for {
		nc, err := ln.Accept()
		if err != nil {
			// Shutdown closes the listener; that Accept error is expected.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		c := newConn(s, nc)
		s.mu.Lock()
		if s.shutdown.Load() {
			// Accepted after Shutdown took its snapshot; it would never
			// see RecvQuit.
			s.mu.Unlock()
			c.Close()
			continue
		}
		s.conns[c] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			c.readLoop()
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
		}()
	}
}

// Addr is the address the server advertises.
func (s *Server) Addr() string {
	return s.advertiseAddr
}

// Conns returns the number of open client connections.
func (s *Server) Conns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) snapshot() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// FireSystemEvent sends a RecvEvent for name to every connection subscribed
// to it and returns how many received it.
func (s *Server) FireSystemEvent(name string, data uint32) int {
	n := 0
	for _, c := range s.snapshot() {
		if c.fireSystemEvent(name, data) {
			n++
		}
	}
	return n
}

// Broadcast sends msg to every connection.
func (s *Server) Broadcast(msg message.Request) {
	for _, c := range s.snapshot() {
		_ = c.Send(msg)
	}
}

// Shutdown performs graceful shutdown:
//  1. Deregister from discovery so clients stop picking this host
//  2. Set the shutdown flag, then close the listener
//  3. Send RecvQuit to every client and close its connection
//  4. Wait for the accept loop and connection goroutines until ctx ends
func (s *Server) Shutdown(ctx context.Context) error {
	if s.opts.Discovery != nil && s.advertiseAddr != "" {
		if err := s.opts.Discovery.Deregister(ctx, s.opts.HostName, s.advertiseAddr); err != nil {
			s.logger.Warn("mock host deregister failed", zap.Error(err))
		}
	}

	// The flag must be set before the listener closes, or serve reports the
	// Accept error as a failure. Setting it under mu means every connection
	// serve registered is in the snapshot below.
	s.mu.Lock()
	s.shutdown.Store(true)
	s.mu.Unlock()
	var errs []error
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}

	for _, c := range s.snapshot() {
		_ = c.Send(&message.RecvQuit{})
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("simhost: waiting for connections: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}
