package message

import (
	"fmt"

	"simlink/codec"
	"simlink/protocol"
)

// ProtocolVersion is sent in Open and echoed by the host in RecvOpen.
const ProtocolVersion uint32 = 4

// Period controls how often the host answers a data request.
type Period uint32

const (
	PeriodNever Period = iota
	PeriodOnce
	PeriodVisualFrame
	PeriodSimFrame
	PeriodSecond
)

func (p Period) String() string {
	switch p {
	case PeriodNever:
		return "never"
	case PeriodOnce:
		return "once"
	case PeriodVisualFrame:
		return "visual_frame"
	case PeriodSimFrame:
		return "sim_frame"
	case PeriodSecond:
		return "second"
	}
	return "unknown"
}

// ParsePeriod accepts the names String returns.
func ParsePeriod(name string) (Period, error) {
	for p := PeriodNever; p <= PeriodSecond; p++ {
		if p.String() == name {
			return p, nil
		}
	}
	return PeriodNever, fmt.Errorf("message: unknown period %q", name)
}

// Data request flags.
const (
	DataRequestFlagDefault uint32 = 0
	DataRequestFlagChanged uint32 = 1 << 0
	DataRequestFlagTagged  uint32 = 1 << 1
)

// Event priorities and flags for TransmitClientEvent.
const (
	PriorityHighest uint32 = 1
	PriorityDefault uint32 = 2000000000

	EventFlagDefault           uint32 = 0
	EventFlagGroupIDIsPriority uint32 = 0x00000010
)

// Open starts a session; the host answers with RecvOpen.
type Open struct {
	AppName         string
	ProtocolVersion uint32
}

func (*Open) Opcode() protocol.Opcode { return protocol.OpOpen }

func (m *Open) Encode(buf *codec.Buffer) {
	buf.WriteString(m.AppName)
	buf.WriteUint32(m.ProtocolVersion)
}

func (m *Open) decode(r *codec.Reader) {
	m.AppName = r.ReadString()
	m.ProtocolVersion = r.ReadUint32()
}

// AddToDataDefinition appends one datum to a definition.
type AddToDataDefinition struct {
	DefineID  uint32
	DatumName string
	UnitsName string
	DataType  codec.DataType
	Epsilon   float32
	DatumID   uint32
}

func (*AddToDataDefinition) Opcode() protocol.Opcode { return protocol.OpAddToDataDefinition }

func (m *AddToDataDefinition) Encode(buf *codec.Buffer) {
	buf.WriteUint32(m.DefineID)
	buf.WriteString(m.DatumName)
	buf.WriteString(m.UnitsName)
	buf.WriteUint32(uint32(m.DataType))
	buf.WriteFloat32(m.Epsilon)
	buf.WriteUint32(m.DatumID)
}

func (m *AddToDataDefinition) decode(r *codec.Reader) {
	m.DefineID = r.ReadUint32()
	m.DatumName = r.ReadString()
	m.UnitsName = r.ReadString()
	m.DataType = codec.DataType(r.ReadUint32())
	m.Epsilon = r.ReadFloat32()
	m.DatumID = r.ReadUint32()
}

// ClearDataDefinition drops every datum of a definition.
type ClearDataDefinition struct {
	DefineID uint32
}

func (*ClearDataDefinition) Opcode() protocol.Opcode { return protocol.OpClearDataDefinition }

func (m *ClearDataDefinition) Encode(buf *codec.Buffer) { buf.WriteUint32(m.DefineID) }

func (m *ClearDataDefinition) decode(r *codec.Reader) { m.DefineID = r.ReadUint32() }

// RequestDataOnSimObject asks for a definition's data on one object.
type RequestDataOnSimObject struct {
	RequestID uint32
	DefineID  uint32
	ObjectID  uint32
	Period    Period
	Flags     uint32
	Origin    uint32
	Interval  uint32
	Limit     uint32
}

func (*RequestDataOnSimObject) Opcode() protocol.Opcode { return protocol.OpRequestDataOnSimObject }

func (m *RequestDataOnSimObject) Encode(buf *codec.Buffer) {
	buf.WriteUint32(m.RequestID)
	buf.WriteUint32(m.DefineID)
	buf.WriteUint32(m.ObjectID)
	buf.WriteUint32(uint32(m.Period))
	buf.WriteUint32(m.Flags)
	buf.WriteUint32(m.Origin)
	buf.WriteUint32(m.Interval)
	buf.WriteUint32(m.Limit)
}

func (m *RequestDataOnSimObject) decode(r *codec.Reader) {
	m.RequestID = r.ReadUint32()
	m.DefineID = r.ReadUint32()
	m.ObjectID = r.ReadUint32()
	m.Period = Period(r.ReadUint32())
	m.Flags = r.ReadUint32()
	m.Origin = r.ReadUint32()
	m.Interval = r.ReadUint32()
	m.Limit = r.ReadUint32()
}

// SetDataOnSimObject writes a packed data block to an object.
type SetDataOnSimObject struct {
	DefineID   uint32
	ObjectID   uint32
	Flags      uint32
	ArrayCount uint32
	UnitSize   uint32
	Data       []byte
}

func (*SetDataOnSimObject) Opcode() protocol.Opcode { return protocol.OpSetDataOnSimObject }

func (m *SetDataOnSimObject) Encode(buf *codec.Buffer) {
	buf.WriteUint32(m.DefineID)
	buf.WriteUint32(m.ObjectID)
	buf.WriteUint32(m.Flags)
	buf.WriteUint32(m.ArrayCount)
	buf.WriteUint32(m.UnitSize)
	buf.WriteBytes(m.Data)
}

func (m *SetDataOnSimObject) decode(r *codec.Reader) {
	m.DefineID = r.ReadUint32()
	m.ObjectID = r.ReadUint32()
	m.Flags = r.ReadUint32()
	m.ArrayCount = r.ReadUint32()
	m.UnitSize = r.ReadUint32()
	m.Data = r.ReadBytes()
}

// MapClientEventToSimEvent binds a client event ID to a host event name.
type MapClientEventToSimEvent struct {
	EventID   uint32
	EventName string
}

func (*MapClientEventToSimEvent) Opcode() protocol.Opcode {
	return protocol.OpMapClientEventToSimEvent
}

func (m *MapClientEventToSimEvent) Encode(buf *codec.Buffer) {
	buf.WriteUint32(m.EventID)
	buf.WriteString(m.EventName)
}

func (m *MapClientEventToSimEvent) decode(r *codec.Reader) {
	m.EventID = r.ReadUint32()
	m.EventName = r.ReadString()
}

// TransmitClientEvent fires a mapped event at an object. GroupID carries the
// priority when Flags has EventFlagGroupIDIsPriority.
type TransmitClientEvent struct {
	ObjectID uint32
	EventID  uint32
	Data     uint32
	GroupID  uint32
	Flags    uint32
}

func (*TransmitClientEvent) Opcode() protocol.Opcode { return protocol.OpTransmitClientEvent }

func (m *TransmitClientEvent) Encode(buf *codec.Buffer) {
	buf.WriteUint32(m.ObjectID)
	buf.WriteUint32(m.EventID)
	buf.WriteUint32(m.Data)
	buf.WriteUint32(m.GroupID)
	buf.WriteUint32(m.Flags)
}

func (m *TransmitClientEvent) decode(r *codec.Reader) {
	m.ObjectID = r.ReadUint32()
	m.EventID = r.ReadUint32()
	m.Data = r.ReadUint32()
	m.GroupID = r.ReadUint32()
	m.Flags = r.ReadUint32()
}

// SubscribeToSystemEvent asks the host to report a named system event.
type SubscribeToSystemEvent struct {
	EventID   uint32
	EventName string
}

func (*SubscribeToSystemEvent) Opcode() protocol.Opcode { return protocol.OpSubscribeToSystemEvent }

func (m *SubscribeToSystemEvent) Encode(buf *codec.Buffer) {
	buf.WriteUint32(m.EventID)
	buf.WriteString(m.EventName)
}

func (m *SubscribeToSystemEvent) decode(r *codec.Reader) {
	m.EventID = r.ReadUint32()
	m.EventName = r.ReadString()
}

// InitPosition places a newly created object. Airspeed -1 means cruise
// speed, -2 keeps the current speed.
type InitPosition struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Altitude  float64 `json:"altitude" yaml:"altitude"`
	Pitch     float64 `json:"pitch" yaml:"pitch"`
	Bank      float64 `json:"bank" yaml:"bank"`
	Heading   float64 `json:"heading" yaml:"heading"`
	OnGround  bool    `json:"on_ground" yaml:"on_ground"`
	Airspeed  int32   `json:"airspeed" yaml:"airspeed"`
}

const (
	AirspeedCruise int32 = -1
	AirspeedKeep   int32 = -2
)

func (p *InitPosition) encode(buf *codec.Buffer) {
	buf.WriteFloat64(p.Latitude)
	buf.WriteFloat64(p.Longitude)
	buf.WriteFloat64(p.Altitude)
	buf.WriteFloat64(p.Pitch)
	buf.WriteFloat64(p.Bank)
	buf.WriteFloat64(p.Heading)
	buf.WriteBool(p.OnGround)
	buf.WriteInt32(p.Airspeed)
}

func (p *InitPosition) decode(r *codec.Reader) {
	p.Latitude = r.ReadFloat64()
	p.Longitude = r.ReadFloat64()
	p.Altitude = r.ReadFloat64()
	p.Pitch = r.ReadFloat64()
	p.Bank = r.ReadFloat64()
	p.Heading = r.ReadFloat64()
	p.OnGround = r.ReadBool()
	p.Airspeed = r.ReadInt32()
}

// AICreateNonATCAircraft spawns an AI aircraft; the host answers with
// RecvAssignedObjectID carrying the same RequestID.
type AICreateNonATCAircraft struct {
	ContainerTitle string
	TailNumber     string
	Position       InitPosition
	RequestID      uint32
}

func (*AICreateNonATCAircraft) Opcode() protocol.Opcode { return protocol.OpAICreateNonATCAircraft }

func (m *AICreateNonATCAircraft) Encode(buf *codec.Buffer) {
	buf.WriteString(m.ContainerTitle)
	buf.WriteString(m.TailNumber)
	m.Position.encode(buf)
	buf.WriteUint32(m.RequestID)
}

func (m *AICreateNonATCAircraft) decode(r *codec.Reader) {
	m.ContainerTitle = r.ReadString()
	m.TailNumber = r.ReadString()
	m.Position.decode(r)
	m.RequestID = r.ReadUint32()
}

// AIReleaseControl hands an AI object over to the client.
type AIReleaseControl struct {
	ObjectID  uint32
	RequestID uint32
}

func (*AIReleaseControl) Opcode() protocol.Opcode { return protocol.OpAIReleaseControl }

func (m *AIReleaseControl) Encode(buf *codec.Buffer) {
	buf.WriteUint32(m.ObjectID)
	buf.WriteUint32(m.RequestID)
}

func (m *AIReleaseControl) decode(r *codec.Reader) {
	m.ObjectID = r.ReadUint32()
	m.RequestID = r.ReadUint32()
}

// AIRemoveObject deletes an object the client created.
type AIRemoveObject struct {
	ObjectID  uint32
	RequestID uint32
}

func (*AIRemoveObject) Opcode() protocol.Opcode { return protocol.OpAIRemoveObject }

func (m *AIRemoveObject) Encode(buf *codec.Buffer) {
	buf.WriteUint32(m.ObjectID)
	buf.WriteUint32(m.RequestID)
}

func (m *AIRemoveObject) decode(r *codec.Reader) {
	m.ObjectID = r.ReadUint32()
	m.RequestID = r.ReadUint32()
}
