// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package wire

import (
	"fmt"
	"math"
	"slices"

	"github.com/creachadair/tickwire/packet"
)

// Kind identifies the element type of a [Value].
type Kind byte

const (
	KindInt32   Kind = 0
	KindFloat32 Kind = 1
	KindBool    Kind = 2
	KindString  Kind = 3
	KindVec2    Kind = 4
	KindVec3    Kind = 5
	KindColor   Kind = 6
	KindAsset   Kind = 7
	KindByte    Kind = 8
	KindShort   Kind = 9

	maxKind = KindShort
)

func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "INT32"
	case KindFloat32:
		return "FLOAT32"
	case KindBool:
		return "BOOL"
	case KindString:
		return "STRING"
	case KindVec2:
		return "VEC2"
	case KindVec3:
		return "VEC3"
	case KindColor:
		return "COLOR"
	case KindAsset:
		return "ASSET"
	case KindByte:
		return "BYTE"
	case KindShort:
		return "SHORT"
	default:
		return fmt.Sprintf("KIND:%d", byte(k))
	}
}

// width reports the number of float32 components per element of a vector
// kind, or 0 for other kinds.
func (k Kind) width() int {
	switch k {
	case KindVec2:
		return 2
	case KindVec3:
		return 3
	case KindColor:
		return 4
	}
	return 0
}

// MaxCount is the maximum number of elements in a single [Value].
const MaxCount = 255

// A Value is a typed, fixed-length array of replicated data. It is the
// "value blob" carried by Replicate fields and Invoke parameters.
//
// The wire encoding is kind:u8, count:u8, followed by count elements whose
// format depends on the kind. Strings and asset names carry a 4-byte length
// prefix; vectors and colors are 2, 3 or 4 float32 components.
//
// Exactly one of the storage slices is populated, according to Kind. Vector
// kinds store their components flattened in F.
type Value struct {
	Kind Kind
	I    []int32   // KindInt32
	F    []float32 // KindFloat32, KindVec2, KindVec3, KindColor
	B    []bool    // KindBool
	S    []string  // KindString, KindAsset
	Y    []byte    // KindByte
	H    []int16   // KindShort
}

// Int constructs an Int32 value.
func Int(vs ...int32) Value { return Value{Kind: KindInt32, I: vs} }

// Float constructs a Float32 value.
func Float(vs ...float32) Value { return Value{Kind: KindFloat32, F: vs} }

// Bool constructs a Bool value.
func Bool(vs ...bool) Value { return Value{Kind: KindBool, B: vs} }

// String constructs a String value.
func String(vs ...string) Value { return Value{Kind: KindString, S: vs} }

// Asset constructs an Asset value naming one or more assets.
func Asset(names ...string) Value { return Value{Kind: KindAsset, S: names} }

// Byte constructs a Byte value.
func Byte(vs ...byte) Value { return Value{Kind: KindByte, Y: vs} }

// Short constructs a Short value.
func Short(vs ...int16) Value { return Value{Kind: KindShort, H: vs} }

// Vec2 constructs a single-element Vec2 value.
func Vec2(x, y float32) Value { return Value{Kind: KindVec2, F: []float32{x, y}} }

// Vec3 constructs a single-element Vec3 value.
func Vec3(x, y, z float32) Value { return Value{Kind: KindVec3, F: []float32{x, y, z}} }

// Color constructs a single-element Color value.
func Color(r, g, b, a float32) Value { return Value{Kind: KindColor, F: []float32{r, g, b, a}} }

// Count reports the number of elements in v.
func (v Value) Count() int {
	switch v.Kind {
	case KindInt32:
		return len(v.I)
	case KindFloat32:
		return len(v.F)
	case KindVec2, KindVec3, KindColor:
		return len(v.F) / v.Kind.width()
	case KindBool:
		return len(v.B)
	case KindString, KindAsset:
		return len(v.S)
	case KindByte:
		return len(v.Y)
	case KindShort:
		return len(v.H)
	}
	return 0
}

// Size reports the number of bytes required to encode v.
func (v Value) Size() int {
	n := 2 // kind, count
	switch v.Kind {
	case KindInt32:
		n += 4 * len(v.I)
	case KindFloat32, KindVec2, KindVec3, KindColor:
		n += 4 * len(v.F)
	case KindBool:
		n += len(v.B)
	case KindString, KindAsset:
		for _, s := range v.S {
			n += packet.Len32(len(s))
		}
	case KindByte:
		n += len(v.Y)
	case KindShort:
		n += 2 * len(v.H)
	}
	return n
}

// Equal reports whether v and w have the same kind and contents.
func (v Value) Equal(w Value) bool {
	if v.Kind != w.Kind {
		return false
	}
	switch v.Kind {
	case KindInt32:
		return slices.Equal(v.I, w.I)
	case KindFloat32, KindVec2, KindVec3, KindColor:
		return slices.Equal(v.F, w.F)
	case KindBool:
		return slices.Equal(v.B, w.B)
	case KindString, KindAsset:
		return slices.Equal(v.S, w.S)
	case KindByte:
		return slices.Equal(v.Y, w.Y)
	case KindShort:
		return slices.Equal(v.H, w.H)
	}
	return true
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	return Value{
		Kind: v.Kind,
		I:    slices.Clone(v.I),
		F:    slices.Clone(v.F),
		B:    slices.Clone(v.B),
		S:    slices.Clone(v.S),
		Y:    slices.Clone(v.Y),
		H:    slices.Clone(v.H),
	}
}

// Check reports an error if v cannot be encoded.
func (v Value) Check() error {
	if v.Kind > maxKind {
		return fmt.Errorf("invalid value kind %d", v.Kind)
	}
	if w := v.Kind.width(); w != 0 && len(v.F)%w != 0 {
		return fmt.Errorf("%v value has %d components, not a multiple of %d", v.Kind, len(v.F), w)
	}
	if n := v.Count(); n > MaxCount {
		return fmt.Errorf("value has %d elements (max %d)", n, MaxCount)
	}
	return nil
}

// Append encodes v onto b. It panics if v is not valid (see [Value.Check]).
func (v Value) Append(b *packet.Builder) {
	if err := v.Check(); err != nil {
		panic(err)
	}
	b.Byte(byte(v.Kind))
	b.Byte(byte(v.Count()))
	switch v.Kind {
	case KindInt32:
		for _, x := range v.I {
			b.Int32(x)
		}
	case KindFloat32, KindVec2, KindVec3, KindColor:
		for _, x := range v.F {
			b.Float32(x)
		}
	case KindBool:
		for _, x := range v.B {
			b.Bool(x)
		}
	case KindString, KindAsset:
		for _, x := range v.S {
			b.String32(x)
		}
	case KindByte:
		b.Put(v.Y...)
	case KindShort:
		for _, x := range v.H {
			b.Int16(x)
		}
	}
}

// ReadValue decodes a single value from the head of s.
func ReadValue(s *packet.Scanner) (Value, error) {
	var kind, count byte
	if err := packet.Parse(s, &kind, &count); err != nil {
		return Value{}, fmt.Errorf("value header: %w", err)
	}
	v := Value{Kind: Kind(kind)}
	if v.Kind > maxKind {
		return Value{}, fmt.Errorf("invalid value kind %d", kind)
	}
	n := int(count)

	// Reject counts that cannot possibly fit before allocating storage.
	if min := n * minElementSize(v.Kind); min > s.Len() {
		return Value{}, fmt.Errorf("value of %d %v elements truncated (%d bytes remain)", n, v.Kind, s.Len())
	}

	var err error
	switch v.Kind {
	case KindInt32:
		v.I = make([]int32, n)
		for i := 0; i < n && err == nil; i++ {
			v.I[i], err = s.Int32()
		}
	case KindFloat32, KindVec2, KindVec3, KindColor:
		v.F = make([]float32, n*max(1, v.Kind.width()))
		for i := 0; i < len(v.F) && err == nil; i++ {
			v.F[i], err = s.Float32()
		}
	case KindBool:
		v.B = make([]bool, n)
		for i := 0; i < n && err == nil; i++ {
			v.B[i], err = s.Bool()
		}
	case KindString, KindAsset:
		v.S = make([]string, n)
		for i := 0; i < n && err == nil; i++ {
			v.S[i], err = s.String32()
		}
	case KindByte:
		var raw []byte
		raw, err = packet.Get[[]byte](s, n)
		v.Y = slices.Clone(raw)
	case KindShort:
		v.H = make([]int16, n)
		for i := 0; i < n && err == nil; i++ {
			v.H[i], err = s.Int16()
		}
	}
	if err != nil {
		return Value{}, fmt.Errorf("value %v: %w", v.Kind, err)
	}
	return v, nil
}

func minElementSize(k Kind) int {
	switch k {
	case KindBool, KindByte:
		return 1
	case KindShort:
		return 2
	case KindString, KindAsset:
		return 4
	case KindVec2, KindVec3, KindColor:
		return 4 * k.width()
	}
	return 4
}

// String returns a human-friendly rendering of the value.
func (v Value) String() string {
	var data any
	switch v.Kind {
	case KindInt32:
		data = v.I
	case KindFloat32, KindVec2, KindVec3, KindColor:
		data = v.F
	case KindBool:
		data = v.B
	case KindString, KindAsset:
		data = v.S
	case KindByte:
		data = v.Y
	case KindShort:
		data = v.H
	}
	return fmt.Sprintf("%v%v", v.Kind, data)
}

// As converts the first element of v to a Go value of type T. The supported
// targets are int32, int, float32, bool, string, byte, int16, [2]float32,
// [3]float32, [4]float32 and Value itself. As reports an error if v has no
// elements or its kind does not match T.
func As[T any](v Value) (T, error) {
	var zero T
	var out any
	switch any(zero).(type) {
	case Value:
		return any(v).(T), nil
	case int32, int:
		if v.Kind == KindInt32 && len(v.I) > 0 {
			out = v.I[0]
			if _, ok := any(zero).(int); ok {
				out = int(v.I[0])
			}
		}
	case float32:
		if v.Kind == KindFloat32 && len(v.F) > 0 {
			out = v.F[0]
		}
	case bool:
		if v.Kind == KindBool && len(v.B) > 0 {
			out = v.B[0]
		}
	case string:
		if (v.Kind == KindString || v.Kind == KindAsset) && len(v.S) > 0 {
			out = v.S[0]
		}
	case byte:
		if v.Kind == KindByte && len(v.Y) > 0 {
			out = v.Y[0]
		}
	case int16:
		if v.Kind == KindShort && len(v.H) > 0 {
			out = v.H[0]
		}
	case [2]float32:
		if v.Kind == KindVec2 && len(v.F) >= 2 {
			out = [2]float32(v.F[:2])
		}
	case [3]float32:
		if v.Kind == KindVec3 && len(v.F) >= 3 {
			out = [3]float32(v.F[:3])
		}
	case [4]float32:
		if v.Kind == KindColor && len(v.F) >= 4 {
			out = [4]float32(v.F[:4])
		}
	default:
		return zero, fmt.Errorf("unsupported conversion target %T", zero)
	}
	if out == nil {
		return zero, fmt.Errorf("cannot convert %v to %T", v, zero)
	}
	return out.(T), nil
}

// From converts a Go value to a [Value]. It is the inverse of [As] for the
// same set of types.
func From[T any](x T) (Value, error) {
	switch t := any(x).(type) {
	case Value:
		return t, nil
	case int32:
		return Int(t), nil
	case int:
		if t < math.MinInt32 || t > math.MaxInt32 {
			return Value{}, fmt.Errorf("value %d out of range for INT32", t)
		}
		return Int(int32(t)), nil
	case float32:
		return Float(t), nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case byte:
		return Byte(t), nil
	case int16:
		return Short(t), nil
	case [2]float32:
		return Vec2(t[0], t[1]), nil
	case [3]float32:
		return Vec3(t[0], t[1], t[2]), nil
	case [4]float32:
		return Color(t[0], t[1], t[2], t[3]), nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", x)
}
