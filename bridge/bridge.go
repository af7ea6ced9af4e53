// Package bridge republishes session traffic on NATS.
//
// A Forwarder drains one Subscription and publishes every payload, encoded
// with a codec.Codec (JSON by default), on the subject
//
//	<prefix>.<kind>[.<definitionID>]
//
// where the definition ID suffix is present for data records only.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"simlink/codec"
	"simlink/message"
	"simlink/protocol"
	"simlink/session"
)

const DefaultPrefix = "simlink"

// Publisher is the part of *nats.Conn the bridge needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// Connect dials a NATS server with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("bridge: connect %s: %w", url, err)
	}
	return nc, nil
}

type Options struct {
	Prefix string
	Codec  codec.Codec
	Logger *zap.Logger
}

// Envelope is what gets published.
type Envelope struct {
	Session   string    `json:"session,omitempty" yaml:"session,omitempty"`
	Kind      string    `json:"kind" yaml:"kind"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Payload   any       `json:"payload" yaml:"payload"`
}

// RecordPayload is a data record with values keyed by field name.
type RecordPayload struct {
	DefinitionID uint32         `json:"definition_id" yaml:"definition_id"`
	RequestID    uint32         `json:"request_id" yaml:"request_id"`
	ObjectID     uint32         `json:"object_id" yaml:"object_id"`
	Values       map[string]any `json:"values" yaml:"values"`
}

// ExceptionPayload is a host exception with its code spelled out.
type ExceptionPayload struct {
	Code   string `json:"code" yaml:"code"`
	SendID uint32 `json:"send_id" yaml:"send_id"`
	Index  uint32 `json:"index" yaml:"index"`
}

type Forwarder struct {
	pub       Publisher
	prefix    string
	codec     codec.Codec
	logger    *zap.Logger
	sessionID string

	published atomic.Uint64
	failed    atomic.Uint64
}

func NewForwarder(pub Publisher, sessionID string, opts Options) *Forwarder {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Codec == nil {
		opts.Codec = &codec.JSONCodec{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Forwarder{
		pub:       pub,
		prefix:    opts.Prefix,
		codec:     opts.Codec,
		logger:    opts.Logger,
		sessionID: sessionID,
	}
}

// Subject returns where payload of kind is published.
func (f *Forwarder) Subject(kind message.Kind, payload any) string {
	subject := f.prefix + "." + kind.String()
	if rec, ok := payload.(codec.Record); ok {
		subject += "." + strconv.FormatUint(uint64(rec.DefinitionID), 10)
	}
	return subject
}

// Forward publishes one payload.
func (f *Forwarder) Forward(kind message.Kind, payload any) error {
	env := Envelope{
		Session:   f.sessionID,
		Kind:      kind.String(),
		Timestamp: time.Now().UTC(),
		Payload:   toPayload(payload),
	}
	data, err := f.codec.Encode(env)
	if err != nil {
		f.failed.Add(1)
		return fmt.Errorf("bridge: encode %s: %w", kind, err)
	}
	subject := f.Subject(kind, payload)
	if err := f.pub.Publish(subject, data); err != nil {
		f.failed.Add(1)
		return fmt.Errorf("bridge: publish %s: %w", subject, err)
	}
	f.published.Add(1)
	return nil
}

// Run forwards everything sub delivers until sub ends or ctx is done. A
// subscription ended by Cancel or by session close is a clean stop. Publish
// failures are logged and skipped.
func (f *Forwarder) Run(ctx context.Context, sub *session.Subscription) error {
	for {
		v, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, session.ErrCancelled) || errors.Is(err, protocol.ErrConnectionClosed) {
				return nil
			}
			return err
		}
		if err := f.Forward(sub.Kind(), v); err != nil {
			f.logger.Warn("bridge forward failed", zap.Stringer("kind", sub.Kind()), zap.Error(err))
		}
	}
}

// Published returns how many payloads were published.
func (f *Forwarder) Published() uint64 {
	return f.published.Load()
}

// Failed returns how many payloads could not be encoded or published.
func (f *Forwarder) Failed() uint64 {
	return f.failed.Load()
}

func toPayload(v any) any {
	switch p := v.(type) {
	case codec.Record:
		return RecordPayload{
			DefinitionID: p.DefinitionID,
			RequestID:    p.RequestID,
			ObjectID:     p.ObjectID,
			Values:       p.Map(),
		}
	case *protocol.ProtocolException:
		return ExceptionPayload{Code: p.Code.String(), SendID: p.SendID, Index: p.Index}
	case *message.RecvSimObjectData:
		// Raw blocks have no schema here; publish only the routing fields.
		return map[string]uint32{
			"request_id":    p.RequestID,
			"object_id":     p.ObjectID,
			"definition_id": p.DefineID,
		}
	}
	return v
}
