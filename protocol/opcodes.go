package protocol

import "fmt"

// Opcode identifies the body layout of a frame.
type Opcode uint16

// Client -> host requests occupy 0x0001-0x00FF, host -> client messages
// 0x0100-0x01FF. OpHeartbeat travels both ways and never carries a body.
const (
	OpHeartbeat Opcode = 0x0000

	OpOpen                     Opcode = 0x0001
	OpAddToDataDefinition      Opcode = 0x0002
	OpClearDataDefinition      Opcode = 0x0003
	OpRequestDataOnSimObject   Opcode = 0x0004
	OpSetDataOnSimObject       Opcode = 0x0005
	OpMapClientEventToSimEvent Opcode = 0x0006
	OpTransmitClientEvent      Opcode = 0x0007
	OpSubscribeToSystemEvent   Opcode = 0x0008
	OpAICreateNonATCAircraft   Opcode = 0x0009
	OpAIReleaseControl         Opcode = 0x000A
	OpAIRemoveObject           Opcode = 0x000B

	OpRecvOpen             Opcode = 0x0101
	OpRecvSimObjectData    Opcode = 0x0102
	OpRecvAssignedObjectID Opcode = 0x0103
	OpRecvException        Opcode = 0x0104
	OpRecvEvent            Opcode = 0x0105
	OpRecvQuit             Opcode = 0x0106
)

var opcodeNames = map[Opcode]string{
	OpHeartbeat:                "HEARTBEAT",
	OpOpen:                     "OPEN",
	OpAddToDataDefinition:      "ADD_TO_DATA_DEFINITION",
	OpClearDataDefinition:      "CLEAR_DATA_DEFINITION",
	OpRequestDataOnSimObject:   "REQUEST_DATA_ON_SIM_OBJECT",
	OpSetDataOnSimObject:       "SET_DATA_ON_SIM_OBJECT",
	OpMapClientEventToSimEvent: "MAP_CLIENT_EVENT_TO_SIM_EVENT",
	OpTransmitClientEvent:      "TRANSMIT_CLIENT_EVENT",
	OpSubscribeToSystemEvent:   "SUBSCRIBE_TO_SYSTEM_EVENT",
	OpAICreateNonATCAircraft:   "AI_CREATE_NON_ATC_AIRCRAFT",
	OpAIReleaseControl:         "AI_RELEASE_CONTROL",
	OpAIRemoveObject:           "AI_REMOVE_OBJECT",
	OpRecvOpen:                 "RECV_OPEN",
	OpRecvSimObjectData:        "RECV_SIMOBJECT_DATA",
	OpRecvAssignedObjectID:     "RECV_ASSIGNED_OBJECT_ID",
	OpRecvException:            "RECV_EXCEPTION",
	OpRecvEvent:                "RECV_EVENT",
	OpRecvQuit:                 "RECV_QUIT",
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeNames[op]
	return ok
}

// FromHost reports whether op is a host -> client message.
func (op Opcode) FromHost() bool {
	return op >= 0x0100 && op <= 0x01FF
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("OPCODE(0x%04x)", uint16(op))
}
