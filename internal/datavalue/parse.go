package datavalue

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidValue is returned when text cannot be parsed as the requested type.
var ErrInvalidValue = errors.New("invalid value")

// Options shape how text is parsed into values.
type Options struct {
	Display  NumericDisplayType
	Encoding StringType
}

// Parse converts user text to a value of type t. Numeric text may carry a 0x
// prefix in any display mode; with DisplayHexadecimal the prefix is optional.
// Hexadecimal floats are IEEE bit patterns.
func Parse(text string, t DataType, opts Options) (Value, error) {
	switch {
	case t.IsNumeric():
		return parseNumeric(strings.TrimSpace(text), t, opts.Display)
	case t == TypeString:
		return String{Text: text, Encoding: opts.Encoding}, nil
	case t == TypeByteArray:
		return parseByteArray(text)
	}
	return nil, fmt.Errorf("%w: unknown data type %s", ErrInvalidValue, t)
}

func parseNumeric(text string, t DataType, display NumericDisplayType) (Numeric, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty %s", ErrInvalidValue, t)
	}

	bits := t.Size() * 8
	digits, isHex := stripHexPrefix(text)
	if isHex || display == DisplayHexadecimal {
		u, err := strconv.ParseUint(digits, 16, bits)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a %d-bit hex %s", ErrInvalidValue, text, bits, t)
		}
		return fromBits(t, u), nil
	}

	if t.IsFloat() {
		f, err := strconv.ParseFloat(text, bits)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a %s", ErrInvalidValue, text, t)
		}
		return FromFloat64(t, f)
	}

	if display == DisplayUnsigned || t == TypeByte {
		u, err := strconv.ParseUint(text, 10, bits)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an unsigned %s", ErrInvalidValue, text, t)
		}
		return fromBits(t, u), nil
	}

	n, err := strconv.ParseInt(text, 10, bits)
	if err != nil {
		// Accept the unsigned spelling of an out-of-range signed value.
		u, uerr := strconv.ParseUint(text, 10, bits)
		if uerr != nil {
			return nil, fmt.Errorf("%w: %q is not a %s", ErrInvalidValue, text, t)
		}
		return fromBits(t, u), nil
	}
	return FromInt64(t, n)
}

func stripHexPrefix(text string) (string, bool) {
	if len(text) > 2 && text[0] == '0' && (text[1] == 'x' || text[1] == 'X') {
		return text[2:], true
	}
	return text, false
}

func fromBits(t DataType, u uint64) Numeric {
	switch t {
	case TypeByte:
		return Byte(u)
	case TypeInt16:
		return Int16(u)
	case TypeInt32:
		return Int32(u)
	case TypeFloat:
		return Float(math.Float32frombits(uint32(u)))
	case TypeDouble:
		return Double(math.Float64frombits(u))
	default:
		return Int64(u)
	}
}

func unsignedBits(v Numeric) uint64 {
	switch x := v.(type) {
	case Byte:
		return uint64(x)
	case Int16:
		return uint64(uint16(x))
	case Int32:
		return uint64(uint32(x))
	case Int64:
		return uint64(x)
	case Float:
		return uint64(math.Float32bits(float32(x)))
	case Double:
		return math.Float64bits(float64(x))
	}
	return 0
}

func parseByteArray(text string) (Value, error) {
	cleaned := strings.NewReplacer(" ", "", "\t", "", ",", "", "-", "").Replace(strings.TrimSpace(text))
	cleaned, _ = stripHexPrefix(cleaned)
	if len(cleaned)%2 != 0 {
		return nil, fmt.Errorf("%w: byte array %q has an odd number of hex digits", ErrInvalidValue, text)
	}
	b, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: byte array %q: %v", ErrInvalidValue, text, err)
	}
	return NewByteArray(b), nil
}

// Format renders v for display. Hexadecimal output carries no prefix and is
// zero padded to the type width.
func Format(v Value, display NumericDisplayType) string {
	n, ok := v.(Numeric)
	if !ok {
		return v.String()
	}

	if display == DisplayHexadecimal {
		return fmt.Sprintf("%0*X", n.ByteLen()*2, unsignedBits(n))
	}

	switch x := n.(type) {
	case Float:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case Double:
		return strconv.FormatFloat(float64(x), 'g', -1, 64)
	case Byte:
		return strconv.FormatUint(uint64(x), 10)
	}

	if display == DisplayUnsigned {
		return strconv.FormatUint(unsignedBits(n), 10)
	}
	return strconv.FormatInt(n.Int64(), 10)
}
