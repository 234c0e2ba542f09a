package godot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Godot wire type IDs for the variants this codec supports.
const (
	typeNil        = 0
	typeBool       = 1
	typeInt        = 2
	typeFloat      = 3
	typeString     = 4
	typeVector2    = 5
	typeVector3    = 7
	typeDictionary = 18
	typeArray      = 19
)

// Bit 16 of the variant header marks 64-bit encodings of int and float.
const flag64Bit = 1 << 16

// Nested containers deeper than this are rejected; the game never nests more
// than a handful of levels and unbounded recursion on hostile input is a
// denial of service vector.
const maxDepth = 32

var (
	// ErrTruncated indicates the data ended before the variant was complete.
	ErrTruncated = errors.New("godot: truncated variant")
	// ErrUnknownType indicates a variant type ID this codec does not support.
	ErrUnknownType = errors.New("godot: unknown variant type")
)

// Marshal encodes the variant in Godot's binary serialization format.
func Marshal(v Value) []byte {
	var buf []byte
	return appendVariant(buf, v)
}

// Unmarshal decodes one variant from data. Trailing bytes after the variant
// are a decode error since every frame carries exactly one payload.
func Unmarshal(data []byte) (Value, error) {
	v, rest, err := decodeVariant(data, 0)
	if err != nil {
		return Value{}, err
	}
	if len(rest) != 0 {
		return Value{}, fmt.Errorf("godot: %d trailing bytes after variant", len(rest))
	}
	return v, nil
}

func appendVariant(buf []byte, v Value) []byte {
	switch v.kind {
	case KindNull:
		buf = appendUint32(buf, typeNil)
	case KindBool:
		buf = appendUint32(buf, typeBool)
		if v.b {
			buf = appendUint32(buf, 1)
		} else {
			buf = appendUint32(buf, 0)
		}
	case KindInt:
		buf = appendUint32(buf, typeInt|flag64Bit)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.i))
	case KindFloat:
		buf = appendUint32(buf, typeFloat|flag64Bit)
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.f))
	case KindString:
		buf = appendUint32(buf, typeString)
		buf = appendPaddedString(buf, v.s)
	case KindVector2:
		buf = appendUint32(buf, typeVector2)
		buf = appendFloat32(buf, v.v2.X)
		buf = appendFloat32(buf, v.v2.Y)
	case KindVector3:
		buf = appendUint32(buf, typeVector3)
		buf = appendFloat32(buf, v.v3.X)
		buf = appendFloat32(buf, v.v3.Y)
		buf = appendFloat32(buf, v.v3.Z)
	case KindDictionary:
		buf = appendUint32(buf, typeDictionary)
		buf = appendUint32(buf, uint32(v.dict.Len()))
		for _, e := range v.dict.Entries() {
			buf = appendVariant(buf, e.Key)
			buf = appendVariant(buf, e.Value)
		}
	case KindArray:
		buf = appendUint32(buf, typeArray)
		buf = appendUint32(buf, uint32(len(v.arr)))
		for _, elem := range v.arr {
			buf = appendVariant(buf, elem)
		}
	}
	return buf
}

func decodeVariant(data []byte, depth int) (Value, []byte, error) {
	if depth > maxDepth {
		return Value{}, nil, errors.New("godot: variant nesting too deep")
	}

	header, data, err := readUint32(data)
	if err != nil {
		return Value{}, nil, err
	}
	typeID := header & 0xFFFF
	wide := header&flag64Bit != 0

	switch typeID {
	case typeNil:
		return Nil(), data, nil

	case typeBool:
		raw, rest, err := readUint32(data)
		if err != nil {
			return Value{}, nil, err
		}
		return Bool(raw != 0), rest, nil

	case typeInt:
		if wide {
			raw, rest, err := readUint64(data)
			if err != nil {
				return Value{}, nil, err
			}
			return Int(int64(raw)), rest, nil
		}
		raw, rest, err := readUint32(data)
		if err != nil {
			return Value{}, nil, err
		}
		return Int(int64(int32(raw))), rest, nil

	case typeFloat:
		if wide {
			raw, rest, err := readUint64(data)
			if err != nil {
				return Value{}, nil, err
			}
			return Float(math.Float64frombits(raw)), rest, nil
		}
		raw, rest, err := readUint32(data)
		if err != nil {
			return Value{}, nil, err
		}
		return Float(float64(math.Float32frombits(raw))), rest, nil

	case typeString:
		s, rest, err := readPaddedString(data)
		if err != nil {
			return Value{}, nil, err
		}
		return String(s), rest, nil

	case typeVector2:
		var v Vector2
		v.X, data, err = readFloat32(data)
		if err == nil {
			v.Y, data, err = readFloat32(data)
		}
		if err != nil {
			return Value{}, nil, err
		}
		return Vec2(v), data, nil

	case typeVector3:
		var v Vector3
		v.X, data, err = readFloat32(data)
		if err == nil {
			v.Y, data, err = readFloat32(data)
		}
		if err == nil {
			v.Z, data, err = readFloat32(data)
		}
		if err != nil {
			return Value{}, nil, err
		}
		return Vec3(v), data, nil

	case typeDictionary:
		raw, rest, err := readUint32(data)
		if err != nil {
			return Value{}, nil, err
		}
		// Bit 31 is Godot's shared-instance flag and not part of the count.
		count := raw & 0x7FFFFFFF
		dict := NewDictionary()
		data = rest
		for i := uint32(0); i < count; i++ {
			var key, value Value
			key, data, err = decodeVariant(data, depth+1)
			if err != nil {
				return Value{}, nil, err
			}
			value, data, err = decodeVariant(data, depth+1)
			if err != nil {
				return Value{}, nil, err
			}
			dict.Set(key, value)
		}
		return Dict(dict), data, nil

	case typeArray:
		raw, rest, err := readUint32(data)
		if err != nil {
			return Value{}, nil, err
		}
		count := raw & 0x7FFFFFFF
		data = rest
		var elems []Value
		for i := uint32(0); i < count; i++ {
			var elem Value
			elem, data, err = decodeVariant(data, depth+1)
			if err != nil {
				return Value{}, nil, err
			}
			elems = append(elems, elem)
		}
		return Array(elems...), data, nil
	}

	return Value{}, nil, fmt.Errorf("%w: %d", ErrUnknownType, typeID)
}

func appendUint32(buf []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, v)
}

func appendFloat32(buf []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
}

// Strings are a uint32 byte length followed by UTF-8 data padded with zero
// bytes to a four byte boundary.
func appendPaddedString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	buf = append(buf, s...)
	for pad := (4 - len(s)%4) % 4; pad > 0; pad-- {
		buf = append(buf, 0)
	}
	return buf
}

func readUint32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, ErrTruncated
	}
	return binary.LittleEndian.Uint32(data), data[4:], nil
}

func readUint64(data []byte) (uint64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, ErrTruncated
	}
	return binary.LittleEndian.Uint64(data), data[8:], nil
}

func readFloat32(data []byte) (float32, []byte, error) {
	raw, rest, err := readUint32(data)
	if err != nil {
		return 0, nil, err
	}
	return math.Float32frombits(raw), rest, nil
}

func readPaddedString(data []byte) (string, []byte, error) {
	length, data, err := readUint32(data)
	if err != nil {
		return "", nil, err
	}
	padded := (int64(length) + 3) &^ 3
	if int64(len(data)) < padded {
		return "", nil, ErrTruncated
	}
	return string(data[:length]), data[padded:], nil
}
