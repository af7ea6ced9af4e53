package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// MaxStringLen is the longest string a uint16 length prefix can carry.
const MaxStringLen = math.MaxUint16

var (
	// ErrShortBuffer is returned when a body ends before the expected field.
	ErrShortBuffer = errors.New("codec: short buffer")
	// ErrStringTooLong is returned for strings over MaxStringLen bytes.
	ErrStringTooLong = errors.New("codec: string too long")
)

// Buffer accumulates a little-endian message body. The first write that
// cannot be encoded sticks: Err reports it and the string is not written.
type Buffer struct {
	b   []byte
	err error
}

// NewBuffer returns a Buffer with room for size bytes.
func NewBuffer(size int) *Buffer {
	return &Buffer{b: make([]byte, 0, size)}
}

func (w *Buffer) Bytes() []byte { return w.b }
func (w *Buffer) Len() int      { return len(w.b) }

// Err returns the first encode failure, if any.
func (w *Buffer) Err() error { return w.err }

// Reset empties the buffer and clears Err but keeps its capacity.
func (w *Buffer) Reset() {
	w.b = w.b[:0]
	w.err = nil
}

func (w *Buffer) WriteUint8(v uint8) { w.b = append(w.b, v) }

func (w *Buffer) WriteUint16(v uint16) { w.b = binary.LittleEndian.AppendUint16(w.b, v) }

func (w *Buffer) WriteUint32(v uint32) { w.b = binary.LittleEndian.AppendUint32(w.b, v) }

func (w *Buffer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

func (w *Buffer) WriteUint64(v uint64) { w.b = binary.LittleEndian.AppendUint64(w.b, v) }

func (w *Buffer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

func (w *Buffer) WriteFloat32(v float32) { w.WriteUint32(math.Float32bits(v)) }

func (w *Buffer) WriteFloat64(v float64) { w.WriteUint64(math.Float64bits(v)) }

func (w *Buffer) WriteBool(v bool) {
	if v {
		w.WriteUint32(1)
		return
	}
	w.WriteUint32(0)
}

// WriteString writes a uint16 length prefix followed by the raw bytes.
// Strings longer than MaxStringLen set Err instead.
func (w *Buffer) WriteString(s string) {
	if len(s) > MaxStringLen {
		if w.err == nil {
			w.err = fmt.Errorf("%w: %d bytes, max %d", ErrStringTooLong, len(s), MaxStringLen)
		}
		return
	}
	w.WriteUint16(uint16(len(s)))
	w.b = append(w.b, s...)
}

// WriteFixedString writes s into exactly n bytes, NUL padded. The last byte
// is always NUL, so at most n-1 bytes of s survive.
func (w *Buffer) WriteFixedString(s string, n int) {
	start := len(w.b)
	w.b = append(w.b, make([]byte, n)...)
	if len(s) > n-1 {
		s = s[:n-1]
	}
	copy(w.b[start:], s)
}

// WriteBytes writes a uint32 length prefix followed by p.
func (w *Buffer) WriteBytes(p []byte) {
	w.WriteUint32(uint32(len(p)))
	w.b = append(w.b, p...)
}

// WriteRaw appends p without a length prefix.
func (w *Buffer) WriteRaw(p []byte) { w.b = append(w.b, p...) }

// Reader consumes a little-endian message body. The first short read sticks:
// every later call returns a zero value and Err reports the failure.
type Reader struct {
	b   []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

// Err returns the first decode failure, if any.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.b) - r.off }

func (r *Reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.b) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.off, len(r.b)-r.off)
		return nil
	}
	p := r.b[r.off : r.off+n]
	r.off += n
	return p
}

func (r *Reader) ReadUint8() uint8 {
	p := r.next(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *Reader) ReadUint16() uint16 {
	p := r.next(2)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(p)
}

func (r *Reader) ReadUint32() uint32 {
	p := r.next(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

func (r *Reader) ReadInt32() int32 { return int32(r.ReadUint32()) }

func (r *Reader) ReadUint64() uint64 {
	p := r.next(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

func (r *Reader) ReadInt64() int64 { return int64(r.ReadUint64()) }

func (r *Reader) ReadFloat32() float32 { return math.Float32frombits(r.ReadUint32()) }

func (r *Reader) ReadFloat64() float64 { return math.Float64frombits(r.ReadUint64()) }

func (r *Reader) ReadBool() bool { return r.ReadUint32() != 0 }

func (r *Reader) ReadString() string {
	n := r.ReadUint16()
	return string(r.next(int(n)))
}

// ReadFixedString reads n bytes and trims at the first NUL.
func (r *Reader) ReadFixedString(n int) string {
	p := r.next(n)
	for i, c := range p {
		if c == 0 {
			return string(p[:i])
		}
	}
	return string(p)
}

func (r *Reader) ReadBytes() []byte {
	n := r.ReadUint32()
	p := r.next(int(n))
	if p == nil {
		return nil
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out
}

// ReadRest returns a copy of every unread byte.
func (r *Reader) ReadRest() []byte {
	p := r.next(r.Remaining())
	out := make([]byte, len(p))
	copy(out, p)
	return out
}
