package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	body := []byte("hello world")
	header := Header{
		Opcode:   OpRequestDataOnSimObject,
		PacketID: 12345,
		BodyLen:  uint32(len(body)),
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &header, body))
	assert.Equal(t, HeaderSize+len(body), buf.Len())

	decodedHeader, decodedBody, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, header, *decodedHeader)
	assert.Equal(t, body, decodedBody)
}

func TestEncodeBodyLengthMismatch(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, &Header{Opcode: OpOpen, BodyLen: 3}, []byte("toolong"))
	require.Error(t, err)
	assert.Zero(t, buf.Len())
}

func TestDecodeInvalidMagic(t *testing.T) {
	invalid := []byte{0x00, 0x00, 0x00, Version, 0x00, 0x01, 0x00, 0x00, 0x30, 0x39, 0x00, 0x00, 0x00, 0x0B}
	var buf bytes.Buffer
	buf.Write(invalid)
	buf.Write([]byte("hello world"))

	_, _, err := Decode(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid magic number")
}

func TestDecodeInvalidVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{
		MagicNumber, MagicByte2, MagicByte3,
		0xFF,
		0x00, 0x01,
		0, 0, 0, 1,
		0, 0, 0, 0,
	})

	_, _, err := Decode(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")
}

func TestDecodeUnknownOpcode(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{
		MagicNumber, MagicByte2, MagicByte3, Version,
		0x7F, 0x7F,
		0, 0, 0, 1,
		0, 0, 0, 0,
	})

	_, _, err := Decode(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported opcode")
}

func TestDecodeEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{Opcode: OpHeartbeat, PacketID: 7}, nil))

	h, body, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, OpHeartbeat, h.Opcode)
	assert.Zero(t, h.BodyLen)
	assert.Empty(t, body)
}

func TestDecodeLimit(t *testing.T) {
	body := make([]byte, 1024)
	var buf bytes.Buffer
	require.NoError(t, EncodeFrame(&buf, &Frame{Header: Header{Opcode: OpSetDataOnSimObject}, Body: body}))

	_, _, err := DecodeLimit(&buf, 512)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
}

func TestDecodeLargeBody(t *testing.T) {
	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeFrame(&buf, &Frame{Header: Header{Opcode: OpRecvSimObjectData, PacketID: 999}, Body: largeBody}))

	f, err := ReadFrame(&buf, DefaultMaxBodySize)
	require.NoError(t, err)
	assert.Equal(t, uint32(999), f.Header.PacketID)
	assert.True(t, bytes.Equal(largeBody, f.Body))
}

func TestOpcodeNames(t *testing.T) {
	assert.Equal(t, "RECV_EXCEPTION", OpRecvException.String())
	assert.True(t, OpRecvQuit.FromHost())
	assert.False(t, OpOpen.FromHost())
	assert.Equal(t, "OPCODE(0x7777)", Opcode(0x7777).String())
}

func TestProtocolExceptionError(t *testing.T) {
	var err error = &ProtocolException{Code: ExceptionNameUnrecognized, SendID: 4, Index: 1}
	assert.Equal(t, "host exception NAME_UNRECOGNIZED on packet 4 (index 1)", err.Error())

	connErr := &ConnectionError{Endpoint: "127.0.0.1:500", Err: ErrTimeout}
	assert.True(t, errors.Is(connErr, ErrTimeout))
}
