package codec

import (
	"fmt"
	"strings"
)

// DataType is the scalar layout of one datum in a data block.
type DataType uint32

const (
	DataTypeInvalid DataType = iota
	DataTypeInt32
	DataTypeInt64
	DataTypeFloat32
	DataTypeFloat64
	DataTypeString8
	DataTypeString32
	DataTypeString64
	DataTypeString128
	DataTypeString256
	DataTypeString260
)

var dataTypeNames = map[DataType]string{
	DataTypeInt32:     "int32",
	DataTypeInt64:     "int64",
	DataTypeFloat32:   "float32",
	DataTypeFloat64:   "float64",
	DataTypeString8:   "string8",
	DataTypeString32:  "string32",
	DataTypeString64:  "string64",
	DataTypeString128: "string128",
	DataTypeString256: "string256",
	DataTypeString260: "string260",
}

var dataTypeSizes = map[DataType]int{
	DataTypeInt32:     4,
	DataTypeInt64:     8,
	DataTypeFloat32:   4,
	DataTypeFloat64:   8,
	DataTypeString8:   8,
	DataTypeString32:  32,
	DataTypeString64:  64,
	DataTypeString128: 128,
	DataTypeString256: 256,
	DataTypeString260: 260,
}

// Size is the packed width in bytes, or 0 for an invalid type.
func (t DataType) Size() int {
	return dataTypeSizes[t]
}

func (t DataType) Valid() bool {
	_, ok := dataTypeSizes[t]
	return ok
}

// IsString reports whether t is one of the fixed-width string types.
func (t DataType) IsString() bool {
	return t >= DataTypeString8 && t <= DataTypeString260
}

func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("datatype(%d)", uint32(t))
}

// ParseDataType accepts the names String returns, case-insensitively.
func ParseDataType(name string) (DataType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range dataTypeNames {
		if n == name {
			return t, nil
		}
	}
	return DataTypeInvalid, fmt.Errorf("codec: unknown data type %q", name)
}

func (t DataType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *DataType) UnmarshalText(text []byte) error {
	parsed, err := ParseDataType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Field is one entry of a data definition.
type Field struct {
	Name    string   `json:"name" yaml:"name" toml:"name"`
	Unit    string   `json:"unit" yaml:"unit" toml:"unit"`
	Type    DataType `json:"type" yaml:"type" toml:"type"`
	Epsilon float32  `json:"epsilon,omitempty" yaml:"epsilon,omitempty" toml:"epsilon"`
}

// BlockSize is the packed width of one entry for fields.
func BlockSize(fields []Field) int {
	n := 0
	for _, f := range fields {
		n += f.Type.Size()
	}
	return n
}

// SameFields reports whether a and b describe the same layout.
func SameFields(a, b []Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ParseField parses "NAME:unit:type", the CLI flag form. The name may not
// contain a colon; unit and type are trimmed.
func ParseField(spec string) (Field, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return Field{}, fmt.Errorf("codec: field %q: want NAME:unit:type", spec)
	}
	t, err := ParseDataType(parts[2])
	if err != nil {
		return Field{}, err
	}
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return Field{}, fmt.Errorf("codec: field %q: empty name", spec)
	}
	return Field{Name: name, Unit: strings.TrimSpace(parts[1]), Type: t}, nil
}
