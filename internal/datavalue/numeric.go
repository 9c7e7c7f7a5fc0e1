package datavalue

import (
	"cmp"
	"fmt"
	"math/rand/v2"

	"golang.org/x/exp/constraints"
)

// FromInt64 converts n to the numeric variant t, truncating to its width.
func FromInt64(t DataType, n int64) (Numeric, error) {
	switch t {
	case TypeByte:
		return Byte(n), nil
	case TypeInt16:
		return Int16(n), nil
	case TypeInt32:
		return Int32(n), nil
	case TypeInt64:
		return Int64(n), nil
	case TypeFloat:
		return Float(n), nil
	case TypeDouble:
		return Double(n), nil
	}
	return nil, fmt.Errorf("%s is not a numeric type", t)
}

// FromFloat64 converts f to the numeric variant t. Integer targets truncate
// toward zero.
func FromFloat64(t DataType, f float64) (Numeric, error) {
	switch t {
	case TypeFloat:
		return Float(f), nil
	case TypeDouble:
		return Double(f), nil
	}
	return FromInt64(t, int64(f))
}

// Compare orders two numerics: integer pairs compare as int64, float pairs as
// float32, mixed pairs as float64.
func Compare(a, b Numeric) int {
	switch {
	case a.Type().IsInteger() && b.Type().IsInteger():
		return cmp.Compare(a.Int64(), b.Int64())
	case a.Type() == TypeFloat && b.Type() == TypeFloat:
		return cmp.Compare(float32(a.Float64()), float32(b.Float64()))
	default:
		return cmp.Compare(a.Float64(), b.Float64())
	}
}

// Add returns a+b in a's type. Integers wrap at their width.
func Add(a, b Numeric) Numeric {
	return combine(a, b, func(x, y int64) int64 { return x + y }, func(x, y float64) float64 { return x + y })
}

// Subtract returns a-b in a's type. Integers wrap at their width.
func Subtract(a, b Numeric) Numeric {
	return combine(a, b, func(x, y int64) int64 { return x - y }, func(x, y float64) float64 { return x - y })
}

func combine(a, b Numeric, ints func(x, y int64) int64, floats func(x, y float64) float64) Numeric {
	var (
		out Numeric
		err error
	)
	if a.Type().IsFloat() {
		out, err = FromFloat64(a.Type(), floats(a.Float64(), b.Float64()))
	} else {
		out, err = FromInt64(a.Type(), ints(a.Int64(), b.Int64()))
	}
	if err != nil {
		return a
	}
	return out
}

// Random returns a value of min's type in [min, max]. Integer bounds are
// inclusive; float results are min + r*(max-min) for r in [0, 1).
func Random(rng *rand.Rand, min, max Numeric) (Numeric, error) {
	if min.Type() != max.Type() {
		return nil, fmt.Errorf("random bounds differ in type: %s and %s", min.Type(), max.Type())
	}
	if Compare(min, max) > 0 {
		return nil, fmt.Errorf("random minimum %s is greater than maximum %s", min, max)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	switch lo := min.(type) {
	case Byte:
		return Byte(randomInteger(rng, lo, max.(Byte))), nil
	case Int16:
		return Int16(randomInteger(rng, lo, max.(Int16))), nil
	case Int32:
		return Int32(randomInteger(rng, lo, max.(Int32))), nil
	case Int64:
		return Int64(randomInteger(rng, lo, max.(Int64))), nil
	case Float:
		return Float(randomFloat(rng, lo, max.(Float))), nil
	case Double:
		return Double(randomFloat(rng, lo, max.(Double))), nil
	}
	return nil, fmt.Errorf("%s is not a numeric type", min.Type())
}

func randomInteger[T constraints.Integer](rng *rand.Rand, lo, hi T) T {
	span := uint64(int64(hi)-int64(lo)) + 1
	if span == 0 {
		// full 64-bit range
		return T(rng.Uint64())
	}
	return T(int64(lo) + int64(rng.Uint64N(span)))
}

func randomFloat[T constraints.Float](rng *rand.Rand, lo, hi T) T {
	return lo + T(rng.Float64())*(hi-lo)
}

