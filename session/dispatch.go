package session

import (
	"fmt"

	"go.uber.org/zap"

	"simlink/codec"
	"simlink/message"
	"simlink/protocol"
	"simlink/registry"
)

const maxEarlyExceptions = 32

// dispatchLoop is the only reader of the transport's frames, so every
// completion and every subscription delivery happens here, in arrival order.
func (s *Session) dispatchLoop() {
	for f := range s.tr.Frames() {
		if s.dispatch(f) {
			s.shutdown("host quit")
			return
		}
	}
	reason := "transport closed"
	if err := s.tr.Err(); err != nil {
		reason = err.Error()
	}
	s.shutdown(reason)
}

// dispatch routes one frame. It reports whether the host ended the session.
func (s *Session) dispatch(f protocol.Frame) (quit bool) {
	msg, err := message.Decode(f.Header.Opcode, f.Body)
	if err != nil {
		s.logger.Warn("dropping undecodable frame", zap.Stringer("opcode", f.Header.Opcode), zap.Error(err))
		return false
	}
	kind, _ := message.KindOf(f.Header.Opcode)

	switch m := msg.(type) {
	case *message.RecvSimObjectData:
		s.onData(m)
		s.publish(kind, m)
	case *message.RecvAssignedObjectID:
		s.onAssigned(m)
		s.publish(kind, m)
	case *message.RecvException:
		exc := m.Err()
		s.onException(exc)
		s.publish(kind, exc)
	case *message.RecvQuit:
		s.publish(kind, m)
		return true
	default:
		s.publish(kind, msg)
	}
	return false
}

func (s *Session) onData(m *message.RecvSimObjectData) {
	if p, ok := s.reg.TakePending(m.RequestID); ok {
		s.metrics.AddPending(-1)
		if p.Kind != registry.PendingData {
			p.Fail(unexpectedReply(p, "simObjectData"))
			return
		}
		rec, err := decodeRecord(p.Definition, m)
		p.Settle(registry.Result{Record: rec, Err: err})
		return
	}

	s.mu.Lock()
	st, ok := s.streams[m.RequestID]
	s.mu.Unlock()
	if ok {
		rec, err := decodeRecord(st.def, m)
		if err != nil {
			s.logger.Warn("dropping undecodable data block",
				zap.Uint32("request", m.RequestID), zap.Uint32("definition", st.def.ID), zap.Error(err))
			return
		}
		st.sub.push(rec)
		return
	}

	s.logger.Debug("discarding data for unknown request", zap.Uint32("request", m.RequestID))
}

func (s *Session) onAssigned(m *message.RecvAssignedObjectID) {
	h := registry.ObjectHandle{ObjectID: m.ObjectID, RequestID: m.RequestID}
	s.reg.TrackObject(h)

	p, ok := s.reg.TakePending(m.RequestID)
	if !ok {
		s.logger.Debug("object assigned for unknown request", zap.Uint32("request", m.RequestID), zap.Uint32("object", m.ObjectID))
		return
	}
	s.metrics.AddPending(-1)
	if p.Kind != registry.PendingObject {
		p.Fail(unexpectedReply(p, "assignedObjectID"))
		return
	}
	p.Settle(registry.Result{Object: h})
}

// onException fails the request whose frame the host rejected, when that
// request is still waiting for a reply.
func (s *Session) onException(exc *protocol.ProtocolException) {
	s.metrics.RecordException(exc.Code)
	s.logger.Debug("host exception", zap.Stringer("code", exc.Code), zap.Uint32("send_id", exc.SendID))

	s.mu.Lock()
	p := s.inflight[exc.SendID]
	if p == nil && !s.closed {
		s.rememberEarly(exc)
	}
	s.mu.Unlock()
	if p != nil && s.reg.DropPending(p) {
		s.metrics.AddPending(-1)
		p.Fail(exc)
	}
}

// rememberEarly keeps the last maxEarlyExceptions unmatched exceptions.
// Callers hold s.mu.
func (s *Session) rememberEarly(exc *protocol.ProtocolException) {
	if _, ok := s.early[exc.SendID]; !ok {
		s.earlyOrder = append(s.earlyOrder, exc.SendID)
	}
	s.early[exc.SendID] = exc
	for len(s.earlyOrder) > maxEarlyExceptions {
		delete(s.early, s.earlyOrder[0])
		s.earlyOrder = s.earlyOrder[1:]
	}
}

// publish appends v to every subscription of kind.
func (s *Session) publish(kind message.Kind, v any) {
	s.mu.Lock()
	set := s.subs[kind]
	targets := make([]*Subscription, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	s.mu.Unlock()

	for _, sub := range targets {
		sub.push(v)
	}
}

func decodeRecord(def registry.Definition, m *message.RecvSimObjectData) (codec.Record, error) {
	values, err := codec.UnpackValues(def.Fields, m.Data)
	if err != nil {
		return codec.Record{}, err
	}
	return codec.Record{
		DefinitionID: def.ID,
		RequestID:    m.RequestID,
		ObjectID:     m.ObjectID,
		Fields:       def.Fields,
		Values:       values,
	}, nil
}

func unexpectedReply(p *registry.Pending, got string) error {
	return fmt.Errorf("session: request %d expected a %s reply, got %s", p.RequestID, p.Kind, got)
}
