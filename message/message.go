// Package message defines the typed bodies carried by protocol frames.
//
// Each request type knows its opcode and encodes itself into a codec.Buffer;
// each host message decodes from a codec.Reader. Decode parses an inbound
// frame body into the matching host message.
package message

import (
	"fmt"

	"simlink/codec"
	"simlink/protocol"
)

// ObjectIDUser addresses the user's own aircraft.
const ObjectIDUser uint32 = 0

// Request is an outbound client -> host body.
type Request interface {
	Opcode() protocol.Opcode
	Encode(buf *codec.Buffer)
}

// Marshal encodes req into a fresh body. It fails when a field cannot be
// represented on the wire, such as a name over codec.MaxStringLen bytes.
func Marshal(req Request) ([]byte, error) {
	buf := codec.NewBuffer(64)
	req.Encode(buf)
	if err := buf.Err(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", req.Opcode(), err)
	}
	return buf.Bytes(), nil
}

// Kind classifies inbound host messages for subscriptions.
type Kind uint8

const (
	KindOpen Kind = iota + 1
	KindSimObjectData
	KindAssignedObjectID
	KindException
	KindEvent
	KindQuit
)

var kindNames = map[Kind]string{
	KindOpen:             "open",
	KindSimObjectData:    "simObjectData",
	KindAssignedObjectID: "assignedObjectID",
	KindException:        "exception",
	KindEvent:            "event",
	KindQuit:             "quit",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind maps the names String returns back to a Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("message: unknown kind %q", name)
}

// KindOf returns the subscription kind for a host opcode.
func KindOf(op protocol.Opcode) (Kind, bool) {
	switch op {
	case protocol.OpRecvOpen:
		return KindOpen, true
	case protocol.OpRecvSimObjectData:
		return KindSimObjectData, true
	case protocol.OpRecvAssignedObjectID:
		return KindAssignedObjectID, true
	case protocol.OpRecvException:
		return KindException, true
	case protocol.OpRecvEvent:
		return KindEvent, true
	case protocol.OpRecvQuit:
		return KindQuit, true
	}
	return 0, false
}

// Decode parses a host message body for op.
func Decode(op protocol.Opcode, body []byte) (any, error) {
	r := codec.NewReader(body)
	var msg interface{ decode(*codec.Reader) }
	switch op {
	case protocol.OpRecvOpen:
		msg = &RecvOpen{}
	case protocol.OpRecvSimObjectData:
		msg = &RecvSimObjectData{}
	case protocol.OpRecvAssignedObjectID:
		msg = &RecvAssignedObjectID{}
	case protocol.OpRecvException:
		msg = &RecvException{}
	case protocol.OpRecvEvent:
		msg = &RecvEvent{}
	case protocol.OpRecvQuit:
		msg = &RecvQuit{}
	default:
		return nil, fmt.Errorf("message: %s is not a host message", op)
	}
	msg.decode(r)
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("message: decode %s: %w", op, err)
	}
	return msg, nil
}

// DecodeRequest parses a client request body for op. The simulated host uses
// it to read what clients send.
func DecodeRequest(op protocol.Opcode, body []byte) (Request, error) {
	r := codec.NewReader(body)
	var req interface {
		Request
		decode(*codec.Reader)
	}
	switch op {
	case protocol.OpOpen:
		req = &Open{}
	case protocol.OpAddToDataDefinition:
		req = &AddToDataDefinition{}
	case protocol.OpClearDataDefinition:
		req = &ClearDataDefinition{}
	case protocol.OpRequestDataOnSimObject:
		req = &RequestDataOnSimObject{}
	case protocol.OpSetDataOnSimObject:
		req = &SetDataOnSimObject{}
	case protocol.OpMapClientEventToSimEvent:
		req = &MapClientEventToSimEvent{}
	case protocol.OpTransmitClientEvent:
		req = &TransmitClientEvent{}
	case protocol.OpSubscribeToSystemEvent:
		req = &SubscribeToSystemEvent{}
	case protocol.OpAICreateNonATCAircraft:
		req = &AICreateNonATCAircraft{}
	case protocol.OpAIReleaseControl:
		req = &AIReleaseControl{}
	case protocol.OpAIRemoveObject:
		req = &AIRemoveObject{}
	default:
		return nil, fmt.Errorf("message: %s is not a client request", op)
	}
	req.decode(r)
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("message: decode %s: %w", op, err)
	}
	return req, nil
}
