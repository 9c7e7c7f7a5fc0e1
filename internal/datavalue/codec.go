package datavalue

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

// ErrShortBuffer is returned when a buffer is smaller than the type width.
var ErrShortBuffer = errors.New("buffer too short for data type")

type appendByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

func byteOrder(littleEndian bool) appendByteOrder {
	if littleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Bytes encodes v as it is laid out in device memory. Strings are encoded
// without a terminator; see WithTerminator.
func Bytes(v Value, littleEndian bool) ([]byte, error) {
	order := byteOrder(littleEndian)
	switch x := v.(type) {
	case Byte:
		return []byte{byte(x)}, nil
	case Int16:
		return order.AppendUint16(nil, uint16(x)), nil
	case Int32:
		return order.AppendUint32(nil, uint32(x)), nil
	case Int64:
		return order.AppendUint64(nil, uint64(x)), nil
	case Float:
		return order.AppendUint32(nil, math.Float32bits(float32(x))), nil
	case Double:
		return order.AppendUint64(nil, math.Float64bits(float64(x))), nil
	case String:
		return EncodeString(x.Text, x.Encoding, littleEndian)
	case ByteArray:
		return x.Data(), nil
	}
	return nil, fmt.Errorf("cannot encode value of type %T", v)
}

// WithTerminator appends a zero character unit of the given encoding.
func WithTerminator(b []byte, enc StringType) []byte {
	return append(b, make([]byte, enc.CharSize())...)
}

// FromBytes decodes a value of type t from buf. Numeric types need at least
// t.Size() bytes; strings decode up to the first terminator.
func FromBytes(t DataType, buf []byte, littleEndian bool, enc StringType) (Value, error) {
	if size := t.Size(); size > 0 && len(buf) < size {
		return nil, fmt.Errorf("%w: %s needs %d bytes, have %d", ErrShortBuffer, t, size, len(buf))
	}

	order := byteOrder(littleEndian)
	switch t {
	case TypeByte:
		return Byte(buf[0]), nil
	case TypeInt16:
		return Int16(order.Uint16(buf)), nil
	case TypeInt32:
		return Int32(order.Uint32(buf)), nil
	case TypeInt64:
		return Int64(order.Uint64(buf)), nil
	case TypeFloat:
		return Float(math.Float32frombits(order.Uint32(buf))), nil
	case TypeDouble:
		return Double(math.Float64frombits(order.Uint64(buf))), nil
	case TypeString:
		text, err := DecodeString(buf, enc, littleEndian)
		if err != nil {
			return nil, err
		}
		return String{Text: text, Encoding: enc}, nil
	case TypeByteArray:
		return NewByteArray(buf), nil
	}
	return nil, fmt.Errorf("cannot decode data type %s", t)
}

// ReadLength returns how many bytes must be read from the device to decode a
// value shaped like v.
func ReadLength(v Value) int {
	if s, ok := v.(String); ok {
		return s.CharLen() * s.Encoding.CharSize()
	}
	return v.ByteLen()
}

func textEncoding(enc StringType, littleEndian bool) encoding.Encoding {
	switch enc {
	case UTF16:
		if littleEndian {
			return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
		}
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	case UTF32:
		if littleEndian {
			return utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM)
		}
		return utf32.UTF32(utf32.BigEndian, utf32.IgnoreBOM)
	}
	return nil
}

// EncodeString encodes text for the device. Characters outside ASCII are
// replaced with '?' for the ASCII encoding.
func EncodeString(text string, enc StringType, littleEndian bool) ([]byte, error) {
	switch enc {
	case ASCII:
		out := make([]byte, 0, len(text))
		for _, r := range text {
			if r >= utf8.RuneSelf {
				r = '?'
			}
			out = append(out, byte(r))
		}
		return out, nil
	case UTF8:
		return []byte(text), nil
	case UTF16, UTF32:
		b, err := textEncoding(enc, littleEndian).NewEncoder().Bytes([]byte(text))
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s string: %w", enc, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown string type %s", enc)
}

// DecodeString decodes device bytes, stopping at the first terminator.
func DecodeString(buf []byte, enc StringType, littleEndian bool) (string, error) {
	buf = trimTerminator(buf, enc.CharSize())
	switch enc {
	case ASCII:
		var sb strings.Builder
		sb.Grow(len(buf))
		for _, b := range buf {
			if b >= utf8.RuneSelf {
				b = '?'
			}
			sb.WriteByte(b)
		}
		return sb.String(), nil
	case UTF8:
		return string(buf), nil
	case UTF16, UTF32:
		b, err := textEncoding(enc, littleEndian).NewDecoder().Bytes(buf)
		if err != nil {
			return "", fmt.Errorf("failed to decode %s string: %w", enc, err)
		}
		return string(b), nil
	}
	return "", fmt.Errorf("unknown string type %s", enc)
}

func trimTerminator(buf []byte, unit int) []byte {
	for i := 0; i+unit <= len(buf); i += unit {
		zero := true
		for _, b := range buf[i : i+unit] {
			if b != 0 {
				zero = false
				break
			}
		}
		if zero {
			return buf[:i]
		}
	}
	return buf[:len(buf)-len(buf)%unit]
}
