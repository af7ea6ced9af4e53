// Package protocol implements the binary frame protocol spoken between a
// simlink client and a simulation host.
//
// Every message is a fixed 14-byte header followed by a variable-length body.
// The receiver reads the header first to learn the body length, then reads
// exactly that many bytes, so frame boundaries survive TCP coalescing.
//
// Frame format:
//
//	0      3  4     6         10        14
//	┌──────┬──┬─────┬─────────┬─────────┬───────────────┐
//	│magic │v │ op  │packetID │ bodyLen │    body ...    │
//	│ slk  │01│u16  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴─────┴─────────┴─────────┴───────────────┘
//
// Header fields are big-endian. Bodies are packed little-endian by the codec
// package, matching the host's native data-block layout.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic number bytes: "slk" (simlink).
// Lets either side reject a peer that is not speaking this protocol.
const (
	MagicNumber byte = 0x73 // 's'
	MagicByte2  byte = 0x6c // 'l'
	MagicByte3  byte = 0x6b // 'k'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 2 (opcode) + 4 (packetID) + 4 (bodyLen)
)

// DefaultMaxBodySize bounds a single frame body. Data blocks for even very
// wide definitions stay far below this.
const DefaultMaxBodySize uint32 = 4 * 1024 * 1024

// Header represents the fixed 14-byte frame header.
type Header struct {
	Opcode   Opcode // Message kind; selects the body layout
	PacketID uint32 // Sender-stamped sequence number, echoed in exceptions as the send ID
	BodyLen  uint32 // Body length in bytes
}

// Frame is one complete wire message.
type Frame struct {
	Header Header
	Body   []byte
}

// Encode writes a complete frame (header + body) to w.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different requests will interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) != h.BodyLen {
		return fmt.Errorf("body length mismatch: header says %d, got %d", h.BodyLen, len(body))
	}

	buf := make([]byte, HeaderSize+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	binary.BigEndian.PutUint16(buf[4:6], uint16(h.Opcode))
	binary.BigEndian.PutUint32(buf[6:10], h.PacketID)
	binary.BigEndian.PutUint32(buf[10:14], h.BodyLen)
	copy(buf[HeaderSize:], body)

	// Single write so a concurrent reader on the peer never sees half a header.
	_, err := w.Write(buf)
	return err
}

// EncodeFrame is Encode for a Frame value; BodyLen is derived from the body.
func EncodeFrame(w io.Writer, f *Frame) error {
	f.Header.BodyLen = uint32(len(f.Body))
	return Encode(w, &f.Header, f.Body)
}

// Decode reads a complete frame from r using DefaultMaxBodySize.
func Decode(r io.Reader) (*Header, []byte, error) {
	return DecodeLimit(r, DefaultMaxBodySize)
}

// DecodeLimit reads a complete frame (header + body) from r.
// It validates the magic number, version and opcode, and refuses bodies larger
// than maxBody before allocating them.
func DecodeLimit(r io.Reader, maxBody uint32) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}

	op := Opcode(binary.BigEndian.Uint16(headerBuf[4:6]))
	if !op.Valid() {
		return nil, nil, fmt.Errorf("unsupported opcode: 0x%04x", uint16(op))
	}

	packetID := binary.BigEndian.Uint32(headerBuf[6:10])
	bodyLen := binary.BigEndian.Uint32(headerBuf[10:14])
	if bodyLen > maxBody {
		return nil, nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFrameTooLarge, bodyLen, maxBody)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		Opcode:   op,
		PacketID: packetID,
		BodyLen:  bodyLen,
	}, body, nil
}

// ReadFrame is DecodeLimit returning a Frame value.
func ReadFrame(r io.Reader, maxBody uint32) (Frame, error) {
	h, body, err := DecodeLimit(r, maxBody)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Header: *h, Body: body}, nil
}
