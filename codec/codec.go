// Package codec packs and unpacks simulation data.
//
// Buffer and Reader handle the little-endian body layout shared by every
// message. PackValues and UnpackValues lay a definition's values out as a
// contiguous data block, in declared field order, the way the host expects.
// The Codec implementations serialize decoded records for consumers outside
// the wire protocol (the NATS bridge, CLI output).
package codec

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
	CodecTypeYAML CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeYAML {
		return &YAMLCodec{}
	}

	return &JSONCodec{}
}

// ParseCodecType maps a user-facing format name to a CodecType.
func ParseCodecType(name string) (CodecType, bool) {
	switch name {
	case "json", "":
		return CodecTypeJSON, true
	case "yaml", "yml":
		return CodecTypeYAML, true
	}
	return CodecTypeJSON, false
}
