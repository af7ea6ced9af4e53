package message

import (
	"simlink/codec"
	"simlink/protocol"
)

// RecvOpen answers Open.
type RecvOpen struct {
	ApplicationName string `json:"application_name" yaml:"application_name"`
	AppVersionMajor uint32 `json:"app_version_major" yaml:"app_version_major"`
	AppVersionMinor uint32 `json:"app_version_minor" yaml:"app_version_minor"`
	ProtocolVersion uint32 `json:"protocol_version" yaml:"protocol_version"`
}

func (*RecvOpen) Opcode() protocol.Opcode { return protocol.OpRecvOpen }

func (m *RecvOpen) Encode(buf *codec.Buffer) {
	buf.WriteString(m.ApplicationName)
	buf.WriteUint32(m.AppVersionMajor)
	buf.WriteUint32(m.AppVersionMinor)
	buf.WriteUint32(m.ProtocolVersion)
}

func (m *RecvOpen) decode(r *codec.Reader) {
	m.ApplicationName = r.ReadString()
	m.AppVersionMajor = r.ReadUint32()
	m.AppVersionMinor = r.ReadUint32()
	m.ProtocolVersion = r.ReadUint32()
}

// RecvSimObjectData carries one data block for a request. EntryNumber and
// OutOf number the entries of a multi-object reply, starting at 1.
type RecvSimObjectData struct {
	RequestID   uint32
	ObjectID    uint32
	DefineID    uint32
	Flags       uint32
	EntryNumber uint32
	OutOf       uint32
	DefineCount uint32
	Data        []byte
}

func (*RecvSimObjectData) Opcode() protocol.Opcode { return protocol.OpRecvSimObjectData }

func (m *RecvSimObjectData) Encode(buf *codec.Buffer) {
	buf.WriteUint32(m.RequestID)
	buf.WriteUint32(m.ObjectID)
	buf.WriteUint32(m.DefineID)
	buf.WriteUint32(m.Flags)
	buf.WriteUint32(m.EntryNumber)
	buf.WriteUint32(m.OutOf)
	buf.WriteUint32(m.DefineCount)
	buf.WriteBytes(m.Data)
}

func (m *RecvSimObjectData) decode(r *codec.Reader) {
	m.RequestID = r.ReadUint32()
	m.ObjectID = r.ReadUint32()
	m.DefineID = r.ReadUint32()
	m.Flags = r.ReadUint32()
	m.EntryNumber = r.ReadUint32()
	m.OutOf = r.ReadUint32()
	m.DefineCount = r.ReadUint32()
	m.Data = r.ReadBytes()
}

// RecvAssignedObjectID answers AICreateNonATCAircraft.
type RecvAssignedObjectID struct {
	RequestID uint32 `json:"request_id" yaml:"request_id"`
	ObjectID  uint32 `json:"object_id" yaml:"object_id"`
}

func (*RecvAssignedObjectID) Opcode() protocol.Opcode { return protocol.OpRecvAssignedObjectID }

func (m *RecvAssignedObjectID) Encode(buf *codec.Buffer) {
	buf.WriteUint32(m.RequestID)
	buf.WriteUint32(m.ObjectID)
}

func (m *RecvAssignedObjectID) decode(r *codec.Reader) {
	m.RequestID = r.ReadUint32()
	m.ObjectID = r.ReadUint32()
}

// RecvException reports a rejected frame by its packet ID.
type RecvException struct {
	Exception protocol.ExceptionCode
	SendID    uint32
	Index     uint32
}

func (*RecvException) Opcode() protocol.Opcode { return protocol.OpRecvException }

func (m *RecvException) Encode(buf *codec.Buffer) {
	buf.WriteUint32(uint32(m.Exception))
	buf.WriteUint32(m.SendID)
	buf.WriteUint32(m.Index)
}

func (m *RecvException) decode(r *codec.Reader) {
	m.Exception = protocol.ExceptionCode(r.ReadUint32())
	m.SendID = r.ReadUint32()
	m.Index = r.ReadUint32()
}

// Err converts the message into the error form delivered to subscribers.
func (m *RecvException) Err() *protocol.ProtocolException {
	return &protocol.ProtocolException{Code: m.Exception, SendID: m.SendID, Index: m.Index}
}

// RecvEvent reports a subscribed system event or an echoed client event.
type RecvEvent struct {
	GroupID uint32 `json:"group_id" yaml:"group_id"`
	EventID uint32 `json:"event_id" yaml:"event_id"`
	Data    uint32 `json:"data" yaml:"data"`
}

func (*RecvEvent) Opcode() protocol.Opcode { return protocol.OpRecvEvent }

func (m *RecvEvent) Encode(buf *codec.Buffer) {
	buf.WriteUint32(m.GroupID)
	buf.WriteUint32(m.EventID)
	buf.WriteUint32(m.Data)
}

func (m *RecvEvent) decode(r *codec.Reader) {
	m.GroupID = r.ReadUint32()
	m.EventID = r.ReadUint32()
	m.Data = r.ReadUint32()
}

// RecvQuit tells the client the host is going away.
type RecvQuit struct{}

func (*RecvQuit) Opcode() protocol.Opcode { return protocol.OpRecvQuit }

func (*RecvQuit) Encode(*codec.Buffer) {}

func (*RecvQuit) decode(*codec.Reader) {}
