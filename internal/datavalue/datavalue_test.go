package datavalue

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func TestNumericRoundTrip(t *testing.T) {
	values := []Numeric{
		Byte(0), Byte(255), Byte(7),
		Int16(-32768), Int16(32767), Int16(-1),
		Int32(math.MinInt32), Int32(math.MaxInt32), Int32(-123456),
		Int64(math.MinInt64), Int64(math.MaxInt64), Int64(42),
		Float(3.25), Float(-0.1), Float(math.MaxFloat32),
		Double(math.Pi), Double(-1e300), Double(0),
	}

	for _, v := range values {
		for _, display := range []NumericDisplayType{DisplayNormal, DisplayUnsigned, DisplayHexadecimal} {
			text := Format(v, display)
			got, err := Parse(text, v.Type(), Options{Display: display})
			if err != nil {
				t.Fatalf("Parse(%q, %s, %s) failed: %v", text, v.Type(), display, err)
			}
			if !got.Equal(v) {
				t.Errorf("%s round trip via %s: got %v, want %v", v.Type(), display, got, v)
			}
		}

		hexText := "0x" + Format(v, DisplayHexadecimal)
		got, err := Parse(hexText, v.Type(), Options{})
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", hexText, err)
		}
		if !got.Equal(v) {
			t.Errorf("%s prefixed hex round trip: got %v, want %v", v.Type(), got, v)
		}
	}
}

func TestParseNumericForms(t *testing.T) {
	tests := []struct {
		text    string
		typ     DataType
		display NumericDisplayType
		want    Value
	}{
		{"10", TypeInt32, DisplayNormal, Int32(10)},
		{"-10", TypeInt32, DisplayNormal, Int32(-10)},
		{"4294967295", TypeInt32, DisplayNormal, Int32(-1)},
		{"FF", TypeByte, DisplayHexadecimal, Byte(255)},
		{"0xFFFF", TypeInt16, DisplayNormal, Int16(-1)},
		{"65535", TypeInt16, DisplayUnsigned, Int16(-1)},
		{"3F800000", TypeFloat, DisplayHexadecimal, Float(1)},
		{"1.5", TypeDouble, DisplayNormal, Double(1.5)},
	}

	for _, tt := range tests {
		got, err := Parse(tt.text, tt.typ, Options{Display: tt.display})
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", tt.text, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("Parse(%q, %s) = %v, want %v", tt.text, tt.typ, got, tt.want)
		}
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := []struct {
		text string
		typ  DataType
	}{
		{"", TypeInt32},
		{"abc", TypeInt32},
		{"300", TypeByte},
		{"0x1FFFF", TypeInt16},
		{"ABC", TypeByteArray},
		{"ZZ", TypeByteArray},
	}
	for _, c := range cases {
		if _, err := Parse(c.text, c.typ, Options{}); !errors.Is(err, ErrInvalidValue) {
			t.Errorf("Parse(%q, %s) error = %v, want ErrInvalidValue", c.text, c.typ, err)
		}
	}
}

func TestByteArrayFormatting(t *testing.T) {
	v, err := Parse("de ad be ef", TypeByteArray, Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v.String() != "DE AD BE EF" {
		t.Errorf("String() = %q", v.String())
	}
	if v.ByteLen() != 4 {
		t.Errorf("ByteLen() = %d", v.ByteLen())
	}
	other, _ := Parse("DEADBEEF", TypeByteArray, Options{})
	if !v.Equal(other) {
		t.Error("expected equal byte arrays")
	}
}

func TestBytesEndianness(t *testing.T) {
	big, _ := Bytes(Int32(0x01020304), false)
	little, _ := Bytes(Int32(0x01020304), true)
	if string(big) != "\x01\x02\x03\x04" {
		t.Errorf("big endian = % X", big)
	}
	if string(little) != "\x04\x03\x02\x01" {
		t.Errorf("little endian = % X", little)
	}

	back, err := FromBytes(TypeInt32, big, false, ASCII)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if !back.Equal(Int32(0x01020304)) {
		t.Errorf("FromBytes = %v", back)
	}

	if _, err := FromBytes(TypeInt64, big, false, ASCII); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("expected ErrShortBuffer, got %v", err)
	}
}

func TestBytesAllWidths(t *testing.T) {
	tests := []struct {
		name   string
		value  Value
		big    string
		little string
	}{
		{"int16", Int16(0x0102), "\x01\x02", "\x02\x01"},
		{"int64", Int64(0x0102030405060708), "\x01\x02\x03\x04\x05\x06\x07\x08", "\x08\x07\x06\x05\x04\x03\x02\x01"},
		{"float", Float(1), "\x3F\x80\x00\x00", "\x00\x00\x80\x3F"},
		{"double", Double(1), "\x3F\xF0\x00\x00\x00\x00\x00\x00", "\x00\x00\x00\x00\x00\x00\xF0\x3F"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			big, err := Bytes(tt.value, false)
			if err != nil {
				t.Fatalf("Bytes: %v", err)
			}
			if string(big) != tt.big {
				t.Errorf("big endian = % X", big)
			}
			little, err := Bytes(tt.value, true)
			if err != nil {
				t.Fatalf("Bytes: %v", err)
			}
			if string(little) != tt.little {
				t.Errorf("little endian = % X", little)
			}
			back, err := FromBytes(tt.value.Type(), little, true, ASCII)
			if err != nil {
				t.Fatalf("FromBytes: %v", err)
			}
			if !back.Equal(tt.value) {
				t.Errorf("FromBytes = %v, want %v", back, tt.value)
			}
		})
	}
}

func TestStringEncodings(t *testing.T) {
	tests := []struct {
		enc  StringType
		text string
		size int
	}{
		{ASCII, "hello", 5},
		{UTF8, "héllo", 6},
		{UTF16, "hi", 4},
		{UTF32, "hi", 8},
	}
	for _, tt := range tests {
		for _, little := range []bool{false, true} {
			b, err := EncodeString(tt.text, tt.enc, little)
			if err != nil {
				t.Fatalf("encode %s: %v", tt.enc, err)
			}
			if len(b) != tt.size {
				t.Errorf("%s encoded length = %d, want %d", tt.enc, len(b), tt.size)
			}
			withNull := WithTerminator(b, tt.enc)
			withNull = append(withNull, 'x', 'x', 'x', 'x')
			got, err := DecodeString(withNull, tt.enc, little)
			if err != nil {
				t.Fatalf("decode %s: %v", tt.enc, err)
			}
			if got != tt.text {
				t.Errorf("%s decode = %q, want %q", tt.enc, got, tt.text)
			}
		}
	}

	ascii, _ := EncodeString("né", ASCII, false)
	if string(ascii) != "n?" {
		t.Errorf("ascii replacement = %q", ascii)
	}
}

func TestCompare(t *testing.T) {
	if Compare(Int32(10), Int32(5)) <= 0 {
		t.Error("10 should be greater than 5")
	}
	if Compare(Byte(1), Int64(1)) != 0 {
		t.Error("integer comparison should cross widths")
	}
	if Compare(Float(0.1), Float(float32(0.1))) != 0 {
		t.Error("float32 values should compare equal")
	}
	if Compare(Float(1.5), Double(2)) >= 0 {
		t.Error("mixed float comparison failed")
	}
}

func TestAddSubtractWrap(t *testing.T) {
	if got := Add(Byte(250), Byte(10)); !got.Equal(Byte(4)) {
		t.Errorf("Add wrap = %v", got)
	}
	if got := Subtract(Int32(5), Int32(7)); !got.Equal(Int32(-2)) {
		t.Errorf("Subtract = %v", got)
	}
	if got := Add(Float(1.5), Int32(2)); !got.Equal(Float(3.5)) {
		t.Errorf("Add float = %v", got)
	}
}

func TestRandomWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	seen := map[int64]bool{}
	for i := 0; i < 500; i++ {
		v, err := Random(rng, Int32(0), Int32(10))
		if err != nil {
			t.Fatalf("Random: %v", err)
		}
		n := v.Int64()
		if n < 0 || n > 10 {
			t.Fatalf("value %d outside [0,10]", n)
		}
		seen[n] = true
	}
	if !seen[0] || !seen[10] {
		t.Errorf("expected inclusive bounds to be produced, saw %v", seen)
	}

	f, err := Random(rng, Double(-1), Double(1))
	if err != nil {
		t.Fatalf("Random double: %v", err)
	}
	if f.Float64() < -1 || f.Float64() > 1 {
		t.Errorf("double %v out of range", f)
	}

	full, err := Random(rng, Int64(math.MinInt64), Int64(math.MaxInt64))
	if err != nil || full.Type() != TypeInt64 {
		t.Errorf("full range random failed: %v %v", full, err)
	}

	if _, err := Random(rng, Int32(5), Int32(1)); err == nil {
		t.Error("expected error for inverted bounds")
	}
	if _, err := Random(rng, Int32(0), Int16(1)); err == nil {
		t.Error("expected error for mismatched bound types")
	}
}

func TestExpressions(t *testing.T) {
	got, err := ParseExpression("v * 2 + 1", TypeInt32, Options{}, Int32(20))
	if err != nil {
		t.Fatalf("ParseExpression: %v", err)
	}
	if !got.Equal(Int32(41)) {
		t.Errorf("v*2+1 = %v", got)
	}

	got, err = ParseExpression("v / 4", TypeFloat, Options{}, Float(10))
	if err != nil {
		t.Fatalf("ParseExpression float: %v", err)
	}
	if !got.Equal(Float(2.5)) {
		t.Errorf("v/4 = %v", got)
	}

	literal, err := ParseExpression("0x10", TypeInt32, Options{}, nil)
	if err != nil || !literal.Equal(Int32(16)) {
		t.Errorf("literal parse = %v, %v", literal, err)
	}

	if _, err := ParseExpression("v +", TypeInt32, Options{}, Int32(1)); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue, got %v", err)
	}

	if _, err := CompileExpression("v", TypeString); err == nil {
		t.Error("expected error compiling for string type")
	}
}

func TestParseDataTypeAliases(t *testing.T) {
	for name, want := range map[string]DataType{
		"int":   TypeInt32,
		"u8":    TypeByte,
		"bytes": TypeByteArray,
		"f64":   TypeDouble,
	} {
		got, err := ParseDataType(name)
		if err != nil || got != want {
			t.Errorf("ParseDataType(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseDataType("quad"); err == nil {
		t.Error("expected error for unknown type")
	}
}
