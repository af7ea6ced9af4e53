package codec

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initialPositionFields() []Field {
	return []Field{
		{Name: "PLANE ALTITUDE", Unit: "feet", Type: DataTypeFloat64},
		{Name: "PLANE LATITUDE", Unit: "degrees", Type: DataTypeFloat64},
		{Name: "PLANE LONGITUDE", Unit: "degrees", Type: DataTypeFloat64},
		{Name: "PLANE BANK DEGREES", Unit: "degrees", Type: DataTypeFloat64},
		{Name: "PLANE HEADING DEGREES TRUE", Unit: "degrees", Type: DataTypeFloat64},
		{Name: "PLANE PITCH DEGREES", Unit: "degrees", Type: DataTypeFloat64},
		{Name: "SIM ON GROUND", Unit: "bool", Type: DataTypeInt32},
	}
}

func TestBufferReaderRoundTrip(t *testing.T) {
	buf := NewBuffer(64)
	buf.WriteUint8(7)
	buf.WriteUint16(0xBEEF)
	buf.WriteUint32(42)
	buf.WriteInt32(-3)
	buf.WriteInt64(-1 << 40)
	buf.WriteFloat32(1.5)
	buf.WriteFloat64(-2.25)
	buf.WriteBool(true)
	buf.WriteString("Cessna 152 Asobo")
	buf.WriteFixedString("N152", 8)
	buf.WriteBytes([]byte{1, 2, 3})

	r := NewReader(buf.Bytes())
	assert.Equal(t, uint8(7), r.ReadUint8())
	assert.Equal(t, uint16(0xBEEF), r.ReadUint16())
	assert.Equal(t, uint32(42), r.ReadUint32())
	assert.Equal(t, int32(-3), r.ReadInt32())
	assert.Equal(t, int64(-1<<40), r.ReadInt64())
	assert.Equal(t, float32(1.5), r.ReadFloat32())
	assert.Equal(t, -2.25, r.ReadFloat64())
	assert.True(t, r.ReadBool())
	assert.Equal(t, "Cessna 152 Asobo", r.ReadString())
	assert.Equal(t, "N152", r.ReadFixedString(8))
	assert.Equal(t, []byte{1, 2, 3}, r.ReadBytes())
	require.NoError(t, r.Err())
	assert.Zero(t, r.Remaining())
}

func TestBufferLittleEndian(t *testing.T) {
	buf := NewBuffer(4)
	buf.WriteUint32(0x01020304)
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, buf.Bytes())
}

func TestBufferLongStringSticks(t *testing.T) {
	buf := NewBuffer(16)
	buf.WriteUint32(1)
	buf.WriteString(strings.Repeat("A", MaxStringLen+1))
	buf.WriteString("after")
	require.ErrorIs(t, buf.Err(), ErrStringTooLong)
	assert.Equal(t, 4+2+len("after"), buf.Len(), "the long string is not written")

	buf.Reset()
	assert.NoError(t, buf.Err())
	buf.WriteString(strings.Repeat("A", MaxStringLen))
	require.NoError(t, buf.Err())
	assert.Equal(t, MaxStringLen, len(NewReader(buf.Bytes()).ReadString()))
}

func TestReaderShortBufferSticks(t *testing.T) {
	r := NewReader([]byte{1, 2})
	assert.Zero(t, r.ReadUint32())
	assert.Zero(t, r.ReadUint8())
	require.Error(t, r.Err())
	assert.True(t, errors.Is(r.Err(), ErrShortBuffer))
}

func TestFixedStringTruncates(t *testing.T) {
	buf := NewBuffer(8)
	buf.WriteFixedString("LONGER THAN EIGHT", 8)
	assert.Equal(t, 8, buf.Len())
	assert.Equal(t, byte(0), buf.Bytes()[7])
	assert.Equal(t, "LONGER ", NewReader(buf.Bytes()).ReadFixedString(8))
}

func TestPackUnpackSevenFields(t *testing.T) {
	fields := initialPositionFields()
	in := []any{1500.5, 47.25, -122.31, 0.5, 271.0, -2.5, int32(1)}

	data, err := PackValues(fields, in)
	require.NoError(t, err)
	assert.Len(t, data, 6*8+4)
	assert.Equal(t, BlockSize(fields), len(data))

	out, err := UnpackValues(fields, data)
	require.NoError(t, err)
	require.Len(t, out, 7)
	for i := range in {
		assert.Equal(t, in[i], out[i], "field %d (%s)", i, fields[i].Name)
	}
}

func TestPackCoercions(t *testing.T) {
	fields := []Field{
		{Name: "LIGHT LANDING", Unit: "Bool", Type: DataTypeInt32},
		{Name: "FUEL", Unit: "gallons", Type: DataTypeFloat32},
		{Name: "ATC ID", Unit: "", Type: DataTypeString32},
		{Name: "TICKS", Unit: "", Type: DataTypeInt64},
	}
	data, err := PackValues(fields, []any{true, 12, "N152", 9})
	require.NoError(t, err)

	out, err := UnpackValues(fields, data)
	require.NoError(t, err)
	assert.Equal(t, []any{int32(1), float32(12), "N152", int64(9)}, out)
}

func TestPackErrors(t *testing.T) {
	fields := []Field{{Name: "X", Type: DataTypeInt32}}

	_, err := PackValues(fields, []any{})
	assert.Error(t, err)

	_, err = PackValues(fields, []any{"nope"})
	assert.Error(t, err)

	_, err = PackValues(fields, []any{int64(1) << 40})
	assert.ErrorContains(t, err, "overflows int32")

	_, err = PackValues(fields, []any{1.5})
	assert.ErrorContains(t, err, "not integral")

	_, err = PackValues(fields, []any{1e19})
	assert.ErrorContains(t, err, "overflows int64")

	wide := []Field{{Name: "TICKS", Type: DataTypeInt64}}
	for _, v := range []any{1e19, -1e19, 9223372036854775808.0, math.Inf(1), uint64(math.MaxInt64) + 1, ^uint(0)} {
		_, err = PackValues(wide, []any{v})
		assert.ErrorContains(t, err, "overflows int64", "%T %v", v, v)
	}
	_, err = PackValues(wide, []any{math.NaN()})
	assert.Error(t, err)

	data, err := PackValues(wide, []any{-9223372036854775808.0})
	require.NoError(t, err)
	out, err := UnpackValues(wide, data)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), out[0])

	data, err = PackValues(wide, []any{uint64(math.MaxInt64)})
	require.NoError(t, err)
	out, err = UnpackValues(wide, data)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), out[0])
}

func TestPackFloatAcceptsEveryIntegerKind(t *testing.T) {
	fields := []Field{{Name: "FUEL", Unit: "gallons", Type: DataTypeFloat64}}
	for _, v := range []any{int8(3), int16(3), uint8(3), uint16(3), uint(3), uint64(3)} {
		data, err := PackValues(fields, []any{v})
		require.NoError(t, err, "%T", v)
		out, err := UnpackValues(fields, data)
		require.NoError(t, err)
		assert.Equal(t, 3.0, out[0], "%T", v)
	}
}

func TestUnpackShortBlock(t *testing.T) {
	_, err := UnpackValues(initialPositionFields(), make([]byte, 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShortBuffer))
}

func TestRecordAccessors(t *testing.T) {
	rec := Record{
		Fields: initialPositionFields(),
		Values: []any{1500.5, 47.25, -122.31, 0.5, 271.0, -2.5, int32(1)},
	}

	alt, err := rec.Float64("PLANE ALTITUDE")
	require.NoError(t, err)
	assert.Equal(t, 1500.5, alt)

	onGround, err := rec.Bool("SIM ON GROUND")
	require.NoError(t, err)
	assert.True(t, onGround)

	_, err = rec.Float64("MISSING")
	assert.Error(t, err)

	_, err = rec.String("PLANE LATITUDE")
	assert.Error(t, err)

	assert.Equal(t, 271.0, rec.Map()["PLANE HEADING DEGREES TRUE"])
}

func TestParseField(t *testing.T) {
	f, err := ParseField("PLANE ALTITUDE:feet:float64")
	require.NoError(t, err)
	assert.Equal(t, Field{Name: "PLANE ALTITUDE", Unit: "feet", Type: DataTypeFloat64}, f)

	_, err = ParseField("PLANE ALTITUDE:feet")
	assert.Error(t, err)

	_, err = ParseField("PLANE ALTITUDE:feet:double")
	assert.Error(t, err)
}

func TestCodecs(t *testing.T) {
	rec := Record{
		DefinitionID: 1,
		RequestID:    2,
		Fields:       []Field{{Name: "PLANE ALTITUDE", Unit: "feet", Type: DataTypeFloat64}},
		Values:       []any{1500.5},
	}

	for _, ct := range []CodecType{CodecTypeJSON, CodecTypeYAML} {
		c := GetCodec(ct)
		assert.Equal(t, ct, c.Type())

		data, err := c.Encode(rec)
		require.NoError(t, err)

		var decoded Record
		require.NoError(t, c.Decode(data, &decoded))
		assert.Equal(t, rec.DefinitionID, decoded.DefinitionID)
		assert.Equal(t, rec.RequestID, decoded.RequestID)
		assert.Equal(t, rec.Fields, decoded.Fields)
		assert.Equal(t, 1500.5, decoded.Values[0])
	}

	ct, ok := ParseCodecType("yml")
	assert.True(t, ok)
	assert.Equal(t, CodecTypeYAML, ct)
	_, ok = ParseCodecType("xml")
	assert.False(t, ok)
}
