package codec

import (
	"fmt"
	"math"
)

// Record is one decoded data block, values in declared field order.
type Record struct {
	DefinitionID uint32  `json:"definition_id" yaml:"definition_id"`
	RequestID    uint32  `json:"request_id" yaml:"request_id"`
	ObjectID     uint32  `json:"object_id" yaml:"object_id"`
	Fields       []Field `json:"fields" yaml:"fields"`
	Values       []any   `json:"values" yaml:"values"`
}

// Index returns the position of the named field, or -1.
func (r Record) Index(name string) int {
	for i, f := range r.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Value returns the named value.
func (r Record) Value(name string) (any, bool) {
	i := r.Index(name)
	if i < 0 || i >= len(r.Values) {
		return nil, false
	}
	return r.Values[i], true
}

// Float64 returns the named value widened to float64.
func (r Record) Float64(name string) (float64, error) {
	v, ok := r.Value(name)
	if !ok {
		return 0, fmt.Errorf("codec: record has no field %q", name)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("codec: field %q is %T, not numeric", name, v)
}

// Int64 returns the named integer value.
func (r Record) Int64(name string) (int64, error) {
	v, ok := r.Value(name)
	if !ok {
		return 0, fmt.Errorf("codec: record has no field %q", name)
	}
	switch n := v.(type) {
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n == math.Trunc(n) {
			return int64(n), nil
		}
	}
	return 0, fmt.Errorf("codec: field %q is %T, not integral", name, v)
}

// Bool treats any non-zero integer as true.
func (r Record) Bool(name string) (bool, error) {
	n, err := r.Int64(name)
	return n != 0, err
}

// String returns the named string value.
func (r Record) String(name string) (string, error) {
	v, ok := r.Value(name)
	if !ok {
		return "", fmt.Errorf("codec: record has no field %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("codec: field %q is %T, not a string", name, v)
	}
	return s, nil
}

// Map returns field name -> value, for serialization.
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.Fields))
	for i, f := range r.Fields {
		if i < len(r.Values) {
			m[f.Name] = r.Values[i]
		}
	}
	return m
}
