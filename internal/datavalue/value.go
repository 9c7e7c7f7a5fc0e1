package datavalue

import (
	"bytes"
	"fmt"
	"strings"
)

// Value is an immutable typed value.
type Value interface {
	// Type returns the variant tag.
	Type() DataType

	// ByteLen is the number of bytes the value occupies on the wire.
	ByteLen() int

	// Equal reports whether other has the same type and content.
	Equal(other Value) bool

	fmt.Stringer
}

// Numeric is implemented by all fixed-width number values.
type Numeric interface {
	Value
	Int64() int64
	Float64() float64
}

type (
	Byte   uint8
	Int16  int16
	Int32  int32
	Int64  int64
	Float  float32
	Double float64
)

func (Byte) Type() DataType   { return TypeByte }
func (Int16) Type() DataType  { return TypeInt16 }
func (Int32) Type() DataType  { return TypeInt32 }
func (Int64) Type() DataType  { return TypeInt64 }
func (Float) Type() DataType  { return TypeFloat }
func (Double) Type() DataType { return TypeDouble }

func (Byte) ByteLen() int   { return 1 }
func (Int16) ByteLen() int  { return 2 }
func (Int32) ByteLen() int  { return 4 }
func (Int64) ByteLen() int  { return 8 }
func (Float) ByteLen() int  { return 4 }
func (Double) ByteLen() int { return 8 }

func (v Byte) Int64() int64   { return int64(v) }
func (v Int16) Int64() int64  { return int64(v) }
func (v Int32) Int64() int64  { return int64(v) }
func (v Int64) Int64() int64  { return int64(v) }
func (v Float) Int64() int64  { return int64(v) }
func (v Double) Int64() int64 { return int64(v) }

func (v Byte) Float64() float64   { return float64(v) }
func (v Int16) Float64() float64  { return float64(v) }
func (v Int32) Float64() float64  { return float64(v) }
func (v Int64) Float64() float64  { return float64(v) }
func (v Float) Float64() float64  { return float64(v) }
func (v Double) Float64() float64 { return float64(v) }

func (v Byte) Equal(o Value) bool   { w, ok := o.(Byte); return ok && v == w }
func (v Int16) Equal(o Value) bool  { w, ok := o.(Int16); return ok && v == w }
func (v Int32) Equal(o Value) bool  { w, ok := o.(Int32); return ok && v == w }
func (v Int64) Equal(o Value) bool  { w, ok := o.(Int64); return ok && v == w }
func (v Float) Equal(o Value) bool  { w, ok := o.(Float); return ok && v == w }
func (v Double) Equal(o Value) bool { w, ok := o.(Double); return ok && v == w }

func (v Byte) String() string   { return Format(v, DisplayNormal) }
func (v Int16) String() string  { return Format(v, DisplayNormal) }
func (v Int32) String() string  { return Format(v, DisplayNormal) }
func (v Int64) String() string  { return Format(v, DisplayNormal) }
func (v Float) String() string  { return Format(v, DisplayNormal) }
func (v Double) String() string { return Format(v, DisplayNormal) }

// String is a text value with its device encoding.
type String struct {
	Text     string
	Encoding StringType
}

func (String) Type() DataType { return TypeString }

// ByteLen returns the encoded length without a terminator.
func (s String) ByteLen() int {
	b, err := EncodeString(s.Text, s.Encoding, false)
	if err != nil {
		return 0
	}
	return len(b)
}

// CharLen returns the number of encoded character units, which is what a
// device read needs to size its buffer.
func (s String) CharLen() int {
	return s.ByteLen() / s.Encoding.CharSize()
}

func (s String) Equal(o Value) bool {
	w, ok := o.(String)
	return ok && s.Text == w.Text
}

func (s String) String() string { return s.Text }

// ByteArray is a fixed-length run of raw bytes. Use NewByteArray to copy.
type ByteArray struct {
	data []byte
}

// NewByteArray copies b into a new ByteArray.
func NewByteArray(b []byte) ByteArray {
	return ByteArray{data: bytes.Clone(b)}
}

func (ByteArray) Type() DataType { return TypeByteArray }

func (a ByteArray) ByteLen() int { return len(a.data) }

// Data returns a copy of the bytes.
func (a ByteArray) Data() []byte { return bytes.Clone(a.data) }

func (a ByteArray) Equal(o Value) bool {
	w, ok := o.(ByteArray)
	return ok && bytes.Equal(a.data, w.data)
}

func (a ByteArray) String() string {
	parts := make([]string, len(a.data))
	for i, b := range a.data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, " ")
}

// Zero returns the zero value of a numeric type.
func Zero(t DataType) (Numeric, error) {
	return FromInt64(t, 0)
}
