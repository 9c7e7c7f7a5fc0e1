// Package datavalue implements the typed values exchanged with a device:
// numerics of fixed width, encoded strings and raw byte arrays.
package datavalue

import (
	"fmt"
	"strings"
)

// DataType tags the variant of a Value.
type DataType uint8

const (
	TypeByte DataType = iota + 1
	TypeInt16
	TypeInt32
	TypeInt64
	TypeFloat
	TypeDouble
	TypeString
	TypeByteArray
)

var dataTypeNames = map[DataType]string{
	TypeByte:      "byte",
	TypeInt16:     "int16",
	TypeInt32:     "int32",
	TypeInt64:     "int64",
	TypeFloat:     "float",
	TypeDouble:    "double",
	TypeString:    "string",
	TypeByteArray: "bytearray",
}

func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("datatype(%d)", uint8(t))
}

// ParseDataType parses a data type name. A few common aliases are accepted.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "byte", "u8", "uint8":
		return TypeByte, nil
	case "int16", "short", "i16":
		return TypeInt16, nil
	case "int32", "int", "i32":
		return TypeInt32, nil
	case "int64", "long", "i64":
		return TypeInt64, nil
	case "float", "float32", "f32":
		return TypeFloat, nil
	case "double", "float64", "f64":
		return TypeDouble, nil
	case "string", "str":
		return TypeString, nil
	case "bytearray", "bytes", "byte_array", "byte-array":
		return TypeByteArray, nil
	}
	return 0, fmt.Errorf("unknown data type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t DataType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DataType) UnmarshalText(text []byte) error {
	parsed, err := ParseDataType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// IsNumeric reports whether values of this type are ordered.
func (t DataType) IsNumeric() bool {
	return t >= TypeByte && t <= TypeDouble
}

// IsInteger reports whether t is an integer type.
func (t DataType) IsInteger() bool {
	return t >= TypeByte && t <= TypeInt64
}

// IsFloat reports whether t is a floating point type.
func (t DataType) IsFloat() bool {
	return t == TypeFloat || t == TypeDouble
}

// Size returns the wire width of numeric types, or 0 for variable-width types.
func (t DataType) Size() int {
	switch t {
	case TypeByte:
		return 1
	case TypeInt16:
		return 2
	case TypeInt32, TypeFloat:
		return 4
	case TypeInt64, TypeDouble:
		return 8
	default:
		return 0
	}
}

// StringType is the character encoding of a String value.
type StringType uint8

const (
	ASCII StringType = iota
	UTF8
	UTF16
	UTF32
)

func (s StringType) String() string {
	switch s {
	case ASCII:
		return "ascii"
	case UTF8:
		return "utf8"
	case UTF16:
		return "utf16"
	case UTF32:
		return "utf32"
	default:
		return fmt.Sprintf("stringtype(%d)", uint8(s))
	}
}

// ParseStringType parses an encoding name.
func ParseStringType(s string) (StringType, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "")) {
	case "", "ascii":
		return ASCII, nil
	case "utf8":
		return UTF8, nil
	case "utf16", "unicode":
		return UTF16, nil
	case "utf32":
		return UTF32, nil
	}
	return 0, fmt.Errorf("unknown string type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s StringType) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *StringType) UnmarshalText(text []byte) error {
	parsed, err := ParseStringType(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// CharSize returns the number of bytes per character unit.
func (s StringType) CharSize() int {
	switch s {
	case UTF16:
		return 2
	case UTF32:
		return 4
	default:
		return 1
	}
}

// NumericDisplayType selects how numerics are rendered and parsed.
type NumericDisplayType uint8

const (
	DisplayNormal NumericDisplayType = iota
	DisplayUnsigned
	DisplayHexadecimal
)

func (d NumericDisplayType) String() string {
	switch d {
	case DisplayNormal:
		return "normal"
	case DisplayUnsigned:
		return "unsigned"
	case DisplayHexadecimal:
		return "hex"
	default:
		return fmt.Sprintf("display(%d)", uint8(d))
	}
}

// ParseDisplayType parses a display type name.
func ParseDisplayType(s string) (NumericDisplayType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal", "decimal", "dec":
		return DisplayNormal, nil
	case "unsigned", "uint":
		return DisplayUnsigned, nil
	case "hex", "hexadecimal":
		return DisplayHexadecimal, nil
	}
	return 0, fmt.Errorf("unknown display type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (d NumericDisplayType) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *NumericDisplayType) UnmarshalText(text []byte) error {
	parsed, err := ParseDisplayType(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
