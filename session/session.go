// Package session is the request-correlation layer of a simlink client.
//
// A Session stamps client-assigned identifiers on outbound requests and
// routes every inbound message, on a single dispatch goroutine and in arrival
// order, to the caller awaiting it or to the subscriptions of its kind.
//
//	RequestOnce ──► registry.AddPending ──► transport.Send
//	                                              │
//	dispatch ◄── transport.Frames() ◄─────────────┘ (reply, any order)
//	   └─► registry.TakePending(requestID) ──► decode ──► caller wakes up
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"simlink/codec"
	"simlink/message"
	"simlink/metrics"
	"simlink/protocol"
	"simlink/registry"
	"simlink/transport"
)

const (
	DefaultRequestTimeout = 5 * time.Second
	DefaultConnectTimeout = 5 * time.Second
)

// Options configures a Session. The zero value is usable.
type Options struct {
	// AppName is sent in the Open handshake.
	AppName string
	// ConnectTimeout bounds the handshake when ctx has no deadline.
	ConnectTimeout time.Duration
	// RequestTimeout is the reply budget of RequestOnce and CreateObject when
	// ctx has no deadline.
	RequestTimeout time.Duration
	Transport      transport.Options
	Logger         *zap.Logger
	Metrics        *metrics.Collector
}

func (o Options) withDefaults() Options {
	if o.AppName == "" {
		o.AppName = "simlink"
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Transport.Logger == nil {
		o.Transport.Logger = o.Logger
	}
	if o.Transport.Metrics == nil {
		o.Transport.Metrics = o.Metrics
	}
	return o
}

// Session is one open connection to a host.
type Session struct {
	id      string
	tr      *transport.ClientTransport
	reg     *registry.Registry
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Collector
	info    message.RecvOpen

	// defMu serialises definition changes so a definition becomes visible in
	// the registry only after all of its frames were written.
	defMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	subs     map[message.Kind]map[*Subscription]struct{}
	streams  map[uint32]*stream
	inflight map[uint32]*registry.Pending // packet ID -> request, for exceptions

	// early holds exceptions that arrived before their request was tracked.
	early      map[uint32]*protocol.ProtocolException
	earlyOrder []uint32

	// stopping holds cancelled streams whose NEVER frame is still being
	// written; a new request for the ID waits for it.
	stopping map[uint32]chan struct{}
	stops    sync.WaitGroup

	closeOnce sync.Once
	done      chan struct{}
}

// stream is an active periodic data request.
type stream struct {
	def registry.Definition
	sub *Subscription
}

// Open dials endpoint and performs the handshake.
func Open(ctx context.Context, endpoint string, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	tr, err := transport.Dial(ctx, endpoint, opts.Transport)
	if err != nil {
		return nil, err
	}
	return NewSession(ctx, tr, opts)
}

// NewSession performs the Open handshake over tr and starts dispatching. On
// failure tr is closed.
func NewSession(ctx context.Context, tr *transport.ClientTransport, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	id := uuid.NewString()
	s := &Session{
		id:       id,
		tr:       tr,
		reg:      registry.New(),
		opts:     opts,
		logger:   opts.Logger.With(zap.String("session", id)),
		metrics:  opts.Metrics,
		subs:     make(map[message.Kind]map[*Subscription]struct{}),
		streams:  make(map[uint32]*stream),
		inflight: make(map[uint32]*registry.Pending),
		early:    make(map[uint32]*protocol.ProtocolException),
		stopping: make(map[uint32]chan struct{}),
		done:     make(chan struct{}),
	}

	if err := s.handshake(ctx); err != nil {
		tr.Close()
		return nil, err
	}
	s.logger.Info("session opened",
		zap.String("app", opts.AppName),
		zap.String("host_app", s.info.ApplicationName),
		zap.Uint32("host_protocol", s.info.ProtocolVersion),
	)

	go s.dispatchLoop()
	return s, nil
}

// handshake sends Open and reads frames until RecvOpen arrives. Dispatch has
// not started yet, so it reads the transport directly.
func (s *Session) handshake(ctx context.Context) error {
	ctx, cancel := withBudget(ctx, s.opts.ConnectTimeout)
	defer cancel()

	open := &message.Open{AppName: s.opts.AppName, ProtocolVersion: message.ProtocolVersion}
	if _, err := s.send(ctx, open); err != nil {
		return fmt.Errorf("session: send open: %w", err)
	}

	for {
		select {
		case f, ok := <-s.tr.Frames():
			if !ok {
				if err := s.tr.Err(); err != nil && !errors.Is(err, protocol.ErrConnectionClosed) {
					return fmt.Errorf("session: handshake: %w", err)
				}
				return fmt.Errorf("session: handshake: %w", protocol.ErrConnectionClosed)
			}
			msg, err := message.Decode(f.Header.Opcode, f.Body)
			if err != nil {
				return fmt.Errorf("session: handshake: %w", err)
			}
			switch m := msg.(type) {
			case *message.RecvOpen:
				s.info = *m
				return nil
			case *message.RecvException:
				return fmt.Errorf("session: handshake rejected: %w", m.Err())
			default:
				s.logger.Debug("ignoring frame before handshake", zap.Stringer("opcode", f.Header.Opcode))
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("session: handshake: %w", protocol.ErrTimeout)
			}
			return ctx.Err()
		}
	}
}

// ID is a random identifier used to tell sessions apart in logs.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr is the host address the session is connected to.
func (s *Session) RemoteAddr() string {
	return s.tr.RemoteAddr()
}

// Info returns the host's handshake reply.
func (s *Session) Info() message.RecvOpen {
	return s.info
}

// Registry exposes the session's identifier arena for inspection.
func (s *Session) Registry() *registry.Registry {
	return s.reg
}

// Done is closed when the session has shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close fails every outstanding request and ends every subscription with
// protocol.ErrConnectionClosed before returning. Safe to call more than once.
func (s *Session) Close() error {
	s.shutdown("closed by caller")
	return nil
}

func (s *Session) shutdown(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		subs := s.subs
		streams := s.streams
		s.subs = nil
		s.streams = nil
		s.inflight = nil
		s.mu.Unlock()

		close(s.done)

		failed := 0
		drained := s.reg.DrainPending()
		s.metrics.AddPending(-len(drained))
		for _, p := range drained {
			if p.Fail(protocol.ErrConnectionClosed) {
				failed++
				s.metrics.RecordFailure(protocol.ErrConnectionClosed)
			}
		}

		ended := 0
		for _, set := range subs {
			for sub := range set {
				sub.end(protocol.ErrConnectionClosed)
				ended++
			}
		}
		for _, st := range streams {
			st.sub.end(protocol.ErrConnectionClosed)
			ended++
		}
		s.metrics.AddSubscriptions(-ended)

		s.tr.Close()
		s.stops.Wait()
		s.logger.Info("session closed",
			zap.String("reason", reason),
			zap.Int("failed_requests", failed),
			zap.Int("ended_subscriptions", ended),
		)
	})
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// send encodes req and writes it. It returns the packet ID the host will
// quote in any exception about this frame.
func (s *Session) send(ctx context.Context, req message.Request) (uint32, error) {
	body, err := message.Marshal(req)
	if err != nil {
		return 0, err
	}
	return s.tr.Send(ctx, req.Opcode(), body)
}

// withBudget applies d when ctx carries no deadline of its own.
func withBudget(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// AddDataDefinition registers fields under defID, writing one
// AddToDataDefinition frame per field in declared order. Registering the same
// ID with an identical field list is a no-op; a different list fails with
// protocol.ErrDuplicateIdentifier.
func (s *Session) AddDataDefinition(ctx context.Context, defID uint32, fields []codec.Field) error {
	if err := registry.ValidateFields(defID, fields); err != nil {
		return err
	}

	s.defMu.Lock()
	defer s.defMu.Unlock()

	if cur, ok := s.reg.Definition(defID); ok {
		if codec.SameFields(cur.Fields, fields) {
			return nil
		}
		return fmt.Errorf("%w: definition %d already bound to a different field list", protocol.ErrDuplicateIdentifier, defID)
	}
	if s.isClosed() {
		return protocol.ErrConnectionClosed
	}

	for i, f := range fields {
		req := &message.AddToDataDefinition{
			DefineID:  defID,
			DatumName: f.Name,
			UnitsName: f.Unit,
			DataType:  f.Type,
			Epsilon:   f.Epsilon,
			DatumID:   uint32(i),
		}
		if _, err := s.send(ctx, req); err != nil {
			// The host may hold a partial definition; clear it best effort.
			if i > 0 {
				_, _ = s.send(context.WithoutCancel(ctx), &message.ClearDataDefinition{DefineID: defID})
			}
			return fmt.Errorf("session: add definition %d field %q: %w", defID, f.Name, err)
		}
	}

	if _, err := s.reg.BindDefinition(defID, fields); err != nil {
		return err
	}
	s.logger.Debug("data definition registered", zap.Uint32("definition", defID), zap.Int("fields", len(fields)))
	return nil
}

// ClearDataDefinition unbinds defID locally and on the host. The ID may then
// be registered again, with any field list.
func (s *Session) ClearDataDefinition(ctx context.Context, defID uint32) error {
	s.defMu.Lock()
	defer s.defMu.Unlock()

	if _, ok := s.reg.Definition(defID); !ok {
		return fmt.Errorf("%w: definition %d", protocol.ErrUnknownIdentifier, defID)
	}
	if _, err := s.send(ctx, &message.ClearDataDefinition{DefineID: defID}); err != nil {
		return fmt.Errorf("session: clear definition %d: %w", defID, err)
	}
	s.reg.ClearDefinition(defID)
	return nil
}

// RequestOnce asks for one data block of defID on objectID and waits for the
// reply tagged with requestID, decoded against the definition.
//
// The budget is ctx's deadline, or Options.RequestTimeout when ctx has none.
// It fails with protocol.ErrTimeout when the budget runs out, with
// protocol.ErrConnectionClosed when the session closes first, with ctx.Err()
// when the caller cancels, and with the host's *protocol.ProtocolException
// when the host rejects the request.
func (s *Session) RequestOnce(ctx context.Context, defID, requestID, objectID uint32) (codec.Record, error) {
	def, ok := s.reg.Definition(defID)
	if !ok {
		return codec.Record{}, fmt.Errorf("%w: definition %d", protocol.ErrUnknownIdentifier, defID)
	}

	p := registry.NewPending(requestID, registry.PendingData, def)
	req := &message.RequestDataOnSimObject{
		RequestID: requestID,
		DefineID:  defID,
		ObjectID:  objectID,
		Period:    message.PeriodOnce,
	}
	res, err := s.await(ctx, p, req)
	if err != nil {
		return codec.Record{}, err
	}
	return res.Record, nil
}

// CreateObject spawns an AI aircraft and waits for the host to assign its
// object ID. Correlation and failure modes are those of RequestOnce.
func (s *Session) CreateObject(ctx context.Context, title, tail string, pos message.InitPosition, requestID uint32) (registry.ObjectHandle, error) {
	p := registry.NewPending(requestID, registry.PendingObject, registry.Definition{})
	req := &message.AICreateNonATCAircraft{
		ContainerTitle: title,
		TailNumber:     tail,
		Position:       pos,
		RequestID:      requestID,
	}
	res, err := s.await(ctx, p, req)
	if err != nil {
		return registry.ObjectHandle{}, err
	}
	return res.Object, nil
}

// await registers p, sends req and waits for p to settle.
func (s *Session) await(ctx context.Context, p *registry.Pending, req message.Request) (registry.Result, error) {
	ctx, cancel := withBudget(ctx, s.opts.RequestTimeout)
	defer cancel()
	if err := s.awaitStop(ctx, p.RequestID); err != nil {
		return registry.Result{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return registry.Result{}, protocol.ErrConnectionClosed
	}
	if _, ok := s.streams[p.RequestID]; ok {
		s.mu.Unlock()
		return registry.Result{}, fmt.Errorf("%w: request %d is an active data stream", protocol.ErrDuplicateIdentifier, p.RequestID)
	}
	err := s.reg.AddPending(p)
	s.mu.Unlock()
	if err != nil {
		return registry.Result{}, err
	}
	s.metrics.AddPending(1)

	packetID, err := s.send(ctx, req)
	if err != nil {
		if s.reg.DropPending(p) {
			s.metrics.AddPending(-1)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: request %d: %v", protocol.ErrTimeout, p.RequestID, err)
		}
		s.metrics.RecordFailure(err)
		return registry.Result{}, err
	}
	s.trackPacket(packetID, p)
	defer s.untrackPacket(packetID)

	select {
	case res := <-p.Done():
		return s.finish(p, res)
	case <-ctx.Done():
	}

	// Abandon: purge the entry and claim the settle so a late reply is
	// discarded. If the reply won the race, use it.
	if s.reg.DropPending(p) {
		s.metrics.AddPending(-1)
	}
	err = ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: request %d after %s", protocol.ErrTimeout, p.RequestID, time.Since(p.Started).Round(time.Millisecond))
	}
	if !p.Fail(err) {
		return s.finish(p, <-p.Done())
	}
	s.metrics.RecordFailure(err)
	s.logger.Debug("request abandoned", zap.Uint32("request", p.RequestID), zap.Error(err))
	return registry.Result{}, err
}

func (s *Session) finish(p *registry.Pending, res registry.Result) (registry.Result, error) {
	if res.Err != nil {
		s.metrics.RecordFailure(res.Err)
		return registry.Result{}, res.Err
	}
	s.metrics.RecordRequest(p.Kind.String(), time.Since(p.Started))
	return res, nil
}

// trackPacket lets exceptions quoting packetID fail p. The host may have
// answered before the send returned, so an exception already seen for
// packetID fails p right away.
func (s *Session) trackPacket(packetID uint32, p *registry.Pending) {
	s.mu.Lock()
	exc, seen := s.early[packetID]
	if seen {
		delete(s.early, packetID)
	} else if s.inflight != nil {
		s.inflight[packetID] = p
	}
	s.mu.Unlock()

	if seen && s.reg.DropPending(p) {
		s.metrics.AddPending(-1)
		p.Fail(exc)
	}
}

func (s *Session) untrackPacket(packetID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, packetID)
}

// RequestData starts a periodic data request. Every reply for requestID is
// decoded against defID and delivered on the returned subscription as a
// codec.Record. Cancel returns at once and stops the request on the host
// (period NEVER) in the background; reusing requestID waits for that frame.
func (s *Session) RequestData(ctx context.Context, defID, requestID, objectID uint32, period message.Period) (*Subscription, error) {
	if period == message.PeriodNever || period == message.PeriodOnce {
		return nil, fmt.Errorf("session: RequestData needs a repeating period, got %s", period)
	}
	def, ok := s.reg.Definition(defID)
	if !ok {
		return nil, fmt.Errorf("%w: definition %d", protocol.ErrUnknownIdentifier, defID)
	}
	if err := s.awaitStop(ctx, requestID); err != nil {
		return nil, err
	}

	sub := newSubscription(message.KindSimObjectData)
	sub.requestID = requestID

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, protocol.ErrConnectionClosed
	}
	if _, ok := s.streams[requestID]; ok || s.reg.HasPending(requestID) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: request %d is already active", protocol.ErrDuplicateIdentifier, requestID)
	}
	s.streams[requestID] = &stream{def: def, sub: sub}
	s.mu.Unlock()

	req := &message.RequestDataOnSimObject{
		RequestID: requestID,
		DefineID:  defID,
		ObjectID:  objectID,
		Period:    period,
	}
	if _, err := s.send(ctx, req); err != nil {
		s.dropStream(requestID, sub)
		return nil, fmt.Errorf("session: request data %d: %w", requestID, err)
	}
	s.metrics.AddSubscriptions(1)

	sub.onCancel = func() {
		if !s.dropStream(requestID, sub) {
			return
		}
		s.metrics.AddSubscriptions(-1)
		stop := *req
		stop.Period = message.PeriodNever
		s.stopStream(&stop)
	}
	return sub, nil
}

// stopStream writes stop in the background so Cancel never waits on the
// connection. Nothing is sent once the session is closing.
func (s *Session) stopStream(stop *message.RequestDataOnSimObject) {
	stopped := make(chan struct{})
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stopping[stop.RequestID] = stopped
	s.stops.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.stops.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
		defer cancel()
		if _, err := s.send(ctx, stop); err != nil {
			s.logger.Debug("stop data request failed", zap.Uint32("request", stop.RequestID), zap.Error(err))
		}
		s.mu.Lock()
		if s.stopping[stop.RequestID] == stopped {
			delete(s.stopping, stop.RequestID)
		}
		s.mu.Unlock()
		close(stopped)
	}()
}

// awaitStop waits until no stop frame for requestID is still being written.
func (s *Session) awaitStop(ctx context.Context, requestID uint32) error {
	s.mu.Lock()
	stopped := s.stopping[requestID]
	s.mu.Unlock()
	if stopped == nil {
		return nil
	}
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session: request %d: waiting for the previous stream to stop: %w", requestID, ctx.Err())
	}
}

func (s *Session) dropStream(requestID uint32, sub *Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[requestID]; ok && st.sub == sub {
		delete(s.streams, requestID)
		return true
	}
	return false
}

// SetData packs values against defID and writes them to objectID. It does
// not wait for anything; a rejection arrives later as an exception whose
// SendID is the returned packet ID.
func (s *Session) SetData(ctx context.Context, defID, objectID uint32, values []any) (uint32, error) {
	def, ok := s.reg.Definition(defID)
	if !ok {
		return 0, fmt.Errorf("%w: definition %d", protocol.ErrUnknownIdentifier, defID)
	}
	data, err := codec.PackValues(def.Fields, values)
	if err != nil {
		return 0, fmt.Errorf("session: set data on definition %d: %w", defID, err)
	}
	return s.send(ctx, &message.SetDataOnSimObject{
		DefineID:   defID,
		ObjectID:   objectID,
		Flags:      message.DataRequestFlagDefault,
		ArrayCount: 1,
		UnitSize:   uint32(len(data)),
		Data:       data,
	})
}

// Subscribe delivers every inbound message of kind, in arrival order, from
// now until Cancel or session close. Earlier messages are not replayed.
func (s *Session) Subscribe(kind message.Kind) *Subscription {
	sub := newSubscription(kind)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.end(protocol.ErrConnectionClosed)
		return sub
	}
	set, ok := s.subs[kind]
	if !ok {
		set = make(map[*Subscription]struct{})
		s.subs[kind] = set
	}
	set[sub] = struct{}{}
	s.mu.Unlock()
	s.metrics.AddSubscriptions(1)

	sub.onCancel = func() {
		s.mu.Lock()
		_, ok := s.subs[kind][sub]
		delete(s.subs[kind], sub)
		s.mu.Unlock()
		if ok {
			s.metrics.AddSubscriptions(-1)
		}
	}
	return sub
}

// Exceptions subscribes to host exceptions. Each payload is a
// *protocol.ProtocolException.
func (s *Session) Exceptions() *Subscription {
	return s.Subscribe(message.KindException)
}

// MapEvent binds clientEventID to the host event name. Mapping the same ID
// to the same name again is a no-op and returns packet ID 0; a different name
// fails with protocol.ErrDuplicateIdentifier. An unknown name is reported
// later as a NAME_UNRECOGNIZED exception quoting the returned packet ID.
func (s *Session) MapEvent(ctx context.Context, clientEventID uint32, name string) (uint32, error) {
	existed, err := s.reg.BindEvent(clientEventID, name, false)
	if err != nil || existed {
		return 0, err
	}
	packetID, err := s.send(ctx, &message.MapClientEventToSimEvent{EventID: clientEventID, EventName: name})
	if err != nil {
		s.reg.UnbindEvent(clientEventID)
		return 0, fmt.Errorf("session: map event %d: %w", clientEventID, err)
	}
	return packetID, nil
}

// TransmitEvent fires a mapped client event at objectID. priority travels in
// the group ID slot and is honoured when flags has
// message.EventFlagGroupIDIsPriority. IDs bound by SubscribeSystemEvent are
// not transmittable.
func (s *Session) TransmitEvent(ctx context.Context, objectID, clientEventID, value, priority, flags uint32) (uint32, error) {
	ev, ok := s.reg.Event(clientEventID)
	if !ok {
		return 0, fmt.Errorf("%w: event %d is not mapped", protocol.ErrUnknownIdentifier, clientEventID)
	}
	if ev.System {
		return 0, fmt.Errorf("%w: event %d is a system event subscription", protocol.ErrUnknownIdentifier, clientEventID)
	}
	return s.send(ctx, &message.TransmitClientEvent{
		ObjectID: objectID,
		EventID:  clientEventID,
		Data:     value,
		GroupID:  priority,
		Flags:    flags,
	})
}

// SubscribeSystemEvent asks the host to report the named system event as
// KindEvent messages carrying clientEventID. The ID shares the namespace of
// MapEvent.
func (s *Session) SubscribeSystemEvent(ctx context.Context, clientEventID uint32, name string) (uint32, error) {
	existed, err := s.reg.BindEvent(clientEventID, name, true)
	if err != nil || existed {
		return 0, err
	}
	packetID, err := s.send(ctx, &message.SubscribeToSystemEvent{EventID: clientEventID, EventName: name})
	if err != nil {
		s.reg.UnbindEvent(clientEventID)
		return 0, fmt.Errorf("session: subscribe system event %q: %w", name, err)
	}
	return packetID, nil
}

// ReleaseControl hands an AI object over to the caller.
func (s *Session) ReleaseControl(ctx context.Context, objectID, requestID uint32) (uint32, error) {
	return s.send(ctx, &message.AIReleaseControl{ObjectID: objectID, RequestID: requestID})
}

// RemoveObject deletes an AI object and forgets its handle.
func (s *Session) RemoveObject(ctx context.Context, objectID, requestID uint32) (uint32, error) {
	packetID, err := s.send(ctx, &message.AIRemoveObject{ObjectID: objectID, RequestID: requestID})
	if err != nil {
		return 0, err
	}
	s.reg.ReleaseObject(objectID)
	return packetID, nil
}
