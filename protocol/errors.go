package protocol

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the transport and session layers.
var (
	// ErrConnectionClosed fails every pending request and ends every
	// subscription when the session or its transport goes away.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrTimeout means no reply arrived within the caller's budget.
	ErrTimeout = errors.New("request timed out")
	// ErrDuplicateIdentifier rejects a definition, request or event ID that
	// is already bound to something incompatible.
	ErrDuplicateIdentifier = errors.New("duplicate identifier")
	// ErrUnknownIdentifier rejects a reference to an ID that was never bound.
	ErrUnknownIdentifier = errors.New("unknown identifier")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrFrameTooLarge     = errors.New("frame too large")
)

// ConnectionError reports that the transport to a host could not be
// established.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ExceptionCode is the host's classification of a rejected request.
type ExceptionCode uint32

const (
	ExceptionNone ExceptionCode = iota
	ExceptionError
	ExceptionSizeMismatch
	ExceptionUnrecognizedID
	ExceptionUnopened
	ExceptionVersionMismatch
	ExceptionNameUnrecognized
	ExceptionEventIDDuplicate
	ExceptionDataError
	ExceptionInvalidDataType
	ExceptionCreateObjectFailed
	ExceptionObjectOutsideRealityBubble
	ExceptionObjectAI
	ExceptionOperationInvalidForObjectType
)

var exceptionNames = map[ExceptionCode]string{
	ExceptionNone:                          "NONE",
	ExceptionError:                         "ERROR",
	ExceptionSizeMismatch:                  "SIZE_MISMATCH",
	ExceptionUnrecognizedID:                "UNRECOGNIZED_ID",
	ExceptionUnopened:                      "UNOPENED",
	ExceptionVersionMismatch:               "VERSION_MISMATCH",
	ExceptionNameUnrecognized:              "NAME_UNRECOGNIZED",
	ExceptionEventIDDuplicate:              "EVENT_ID_DUPLICATE",
	ExceptionDataError:                     "DATA_ERROR",
	ExceptionInvalidDataType:               "INVALID_DATA_TYPE",
	ExceptionCreateObjectFailed:            "CREATE_OBJECT_FAILED",
	ExceptionObjectOutsideRealityBubble:    "OBJECT_OUTSIDE_REALITY_BUBBLE",
	ExceptionObjectAI:                      "OBJECT_AI",
	ExceptionOperationInvalidForObjectType: "OPERATION_INVALID_FOR_OBJECT_TYPE",
}

func (c ExceptionCode) String() string {
	if name, ok := exceptionNames[c]; ok {
		return name
	}
	return fmt.Sprintf("EXCEPTION(%d)", uint32(c))
}

// ProtocolException is a semantic error the host raised against an earlier
// frame. It arrives out of band on the exception subscription; SendID is the
// packet ID of the offending frame and Index the offending parameter, when the
// host knows it.
type ProtocolException struct {
	Code   ExceptionCode
	SendID uint32
	Index  uint32
}

func (e *ProtocolException) Error() string {
	return fmt.Sprintf("host exception %s on packet %d (index %d)", e.Code, e.SendID, e.Index)
}
