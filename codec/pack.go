package codec

import (
	"fmt"
	"math"
)

// PackValues lays values out as one data block for fields. Numeric values
// are converted to the field's type; bools pack as 0/1 for integer fields.
func PackValues(fields []Field, values []any) ([]byte, error) {
	if len(values) != len(fields) {
		return nil, fmt.Errorf("codec: %d values for %d fields", len(values), len(fields))
	}
	buf := NewBuffer(BlockSize(fields))
	for i, f := range fields {
		if err := packValue(buf, f, values[i]); err != nil {
			return nil, fmt.Errorf("codec: field %d (%s): %w", i, f.Name, err)
		}
	}
	return buf.Bytes(), nil
}

func packValue(buf *Buffer, f Field, v any) error {
	if f.Type.IsString() {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", v)
		}
		buf.WriteFixedString(s, f.Type.Size())
		return nil
	}

	switch f.Type {
	case DataTypeInt32:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return fmt.Errorf("%d overflows int32", n)
		}
		buf.WriteInt32(int32(n))
	case DataTypeInt64:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		buf.WriteInt64(n)
	case DataTypeFloat32:
		x, err := toFloat64(v)
		if err != nil {
			return err
		}
		buf.WriteFloat32(float32(x))
	case DataTypeFloat64:
		x, err := toFloat64(v)
		if err != nil {
			return err
		}
		buf.WriteFloat64(x)
	default:
		return fmt.Errorf("unsupported data type %s", f.Type)
	}
	return nil
}

// UnpackValues decodes one data block laid out for fields. Int32 decodes to
// int32, Int64 to int64, Float32 to float32, Float64 to float64 and string
// types to string.
func UnpackValues(fields []Field, data []byte) ([]any, error) {
	if want := BlockSize(fields); len(data) < want {
		return nil, fmt.Errorf("%w: data block is %d bytes, definition needs %d", ErrShortBuffer, len(data), want)
	}
	r := NewReader(data)
	values := make([]any, len(fields))
	for i, f := range fields {
		switch {
		case f.Type.IsString():
			values[i] = r.ReadFixedString(f.Type.Size())
		case f.Type == DataTypeInt32:
			values[i] = r.ReadInt32()
		case f.Type == DataTypeInt64:
			values[i] = r.ReadInt64()
		case f.Type == DataTypeFloat32:
			values[i] = r.ReadFloat32()
		case f.Type == DataTypeFloat64:
			values[i] = r.ReadFloat64()
		default:
			return nil, fmt.Errorf("codec: field %d (%s): unsupported data type %s", i, f.Name, f.Type)
		}
	}
	return values, r.Err()
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", n)
		}
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", n)
		}
		return int64(n), nil
	case float32:
		return floatToInt64(float64(n))
	case float64:
		return floatToInt64(n)
	}
	return 0, fmt.Errorf("want integer, got %T", v)
}

// floatToInt64 accepts whole numbers in [-2^63, 2^63). 2^63 itself is the
// smallest float64 above MaxInt64.
func floatToInt64(n float64) (int64, error) {
	if n != math.Trunc(n) {
		return 0, fmt.Errorf("%v is not integral", n)
	}
	if n < math.MinInt64 || n >= -math.MinInt64 {
		return 0, fmt.Errorf("%v overflows int64", n)
	}
	return int64(n), nil
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("want number, got %T", v)
}
