package types

import (
	"bytes"
	"cmp"
	"fmt"

	"github.com/ajitpratap0/datastore/pkg/errors"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindBytes
	KindLink
)

func kindOf(f Family) Kind {
	switch f {
	case FamilyInt:
		return KindInt
	case FamilyFloat:
		return KindFloat
	case FamilyBool:
		return KindBool
	case FamilyStr:
		return KindString
	case FamilyBytes:
		return KindBytes
	case FamilyLink:
		return KindLink
	default:
		return KindNone
	}
}

// Value is a tagged union over the fixed set of storable kinds. The zero
// Value is Null.
type Value struct {
	kind Kind
	bits uint8
	i    int64
	f    float64
	b    bool
	s    string
	raw  []byte
	link Link
}

// Null is the explicit "no value" marker.
var Null = Value{}

// Int returns an integer value of the given bit width (8, 16, 32 or 64).
func Int(v int64, bits int) Value {
	switch bits {
	case 8:
		v = int64(int8(v))
	case 16:
		v = int64(int16(v))
	case 32:
		v = int64(int32(v))
	default:
		bits = 64
	}
	return Value{kind: KindInt, bits: uint8(bits), i: v}
}

// Int8Value returns an int8 value.
func Int8Value(v int8) Value { return Int(int64(v), 8) }

// Int16Value returns an int16 value.
func Int16Value(v int16) Value { return Int(int64(v), 16) }

// Int32Value returns an int32 value.
func Int32Value(v int32) Value { return Int(int64(v), 32) }

// Int64Value returns an int64 value.
func Int64Value(v int64) Value { return Int(v, 64) }

// Float returns a float value of the given bit width (16, 32 or 64), rounded
// to that precision.
func Float(v float64, bits int) Value {
	switch bits {
	case 16, 32:
	default:
		bits = 64
	}
	return Value{kind: KindFloat, bits: uint8(bits), f: roundFloat(v, bits)}
}

// Float16Value returns a half precision float value.
func Float16Value(v float32) Value { return Float(float64(v), 16) }

// Float32Value returns a float32 value.
func Float32Value(v float32) Value { return Float(float64(v), 32) }

// Float64Value returns a float64 value.
func Float64Value(v float64) Value { return Float(v, 64) }

// BoolValue returns a boolean value.
func BoolValue(v bool) Value { return Value{kind: KindBool, bits: 1, b: v} }

// String returns a string value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// BytesValue returns a bytes value. The slice is not copied.
func BytesValue(v []byte) Value { return Value{kind: KindBytes, raw: v} }

// LinkValue returns a link value.
func LinkValue(v Link) Value { return Value{kind: KindLink, link: v} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == KindNone }

// Type infers the column type of v.
func (v Value) Type() Type {
	switch v.kind {
	case KindInt:
		return Type{FamilyInt, int(v.bits)}
	case KindFloat:
		return Type{FamilyFloat, int(v.bits)}
	case KindBool:
		return Bool
	case KindString:
		return Str
	case KindBytes:
		return Bytes
	case KindLink:
		return LinkT
	default:
		return None
	}
}

// AsInt returns the integer payload.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float payload.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsBytes returns the bytes payload.
func (v Value) AsBytes() ([]byte, bool) { return v.raw, v.kind == KindBytes }

// AsLink returns the link payload.
func (v Value) AsLink() (Link, bool) { return v.link, v.kind == KindLink }

// IsTrue reports whether v is the boolean true. Used for reserved flag columns.
func (v Value) IsTrue() bool { return v.kind == KindBool && v.b }

// Any returns the native Go representation of v.
func (v Value) Any() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindString:
		return v.s
	case KindBytes:
		return v.raw
	case KindLink:
		return v.link
	default:
		return nil
	}
}

// Size returns an approximate in-memory footprint in bytes.
func (v Value) Size() int {
	switch v.kind {
	case KindInt, KindFloat:
		return 8
	case KindBool:
		return 1
	case KindString:
		return len(v.s)
	case KindBytes:
		return len(v.raw)
	case KindLink:
		return len(v.link.URI) + len(v.link.DisplayText) + len(v.link.MimeType)
	default:
		return 0
	}
}

// Equal reports structural equality, ignoring bit width.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && Compare(v, o) == 0
}

func (v Value) String() string {
	switch v.kind {
	case KindNone:
		return "None"
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindLink:
		return v.link.String()
	default:
		return fmt.Sprintf("%v", v.Any())
	}
}

// Compare orders values of the same kind by payload. Values of different kinds
// are ordered by kind, with Null first.
func Compare(a, b Value) int {
	if a.kind != b.kind {
		return cmp.Compare(a.kind, b.kind)
	}
	switch a.kind {
	case KindInt:
		return cmp.Compare(a.i, b.i)
	case KindFloat:
		return cmp.Compare(a.f, b.f)
	case KindBool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		default:
			return 1
		}
	case KindString:
		return cmp.Compare(a.s, b.s)
	case KindBytes:
		return bytes.Compare(a.raw, b.raw)
	case KindLink:
		if c := cmp.Compare(a.link.URI, b.link.URI); c != 0 {
			return c
		}
		if c := cmp.Compare(a.link.DisplayText, b.link.DisplayText); c != 0 {
			return c
		}
		return cmp.Compare(a.link.MimeType, b.link.MimeType)
	default:
		return 0
	}
}

// Less reports whether a sorts before b.
func Less(a, b Value) bool {
	return Compare(a, b) < 0
}

// FromAny converts a native Go value into a Value. It fails for kinds that
// have no mapping in the type system.
func FromAny(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null, nil
	case Value:
		return v, nil
	case int:
		return Int64Value(int64(v)), nil
	case int8:
		return Int8Value(v), nil
	case int16:
		return Int16Value(v), nil
	case int32:
		return Int32Value(v), nil
	case int64:
		return Int64Value(v), nil
	case uint8:
		return Int16Value(int16(v)), nil
	case uint16:
		return Int32Value(int32(v)), nil
	case uint32:
		return Int64Value(int64(v)), nil
	case float32:
		return Float32Value(v), nil
	case float64:
		return Float64Value(v), nil
	case bool:
		return BoolValue(v), nil
	case string:
		return String(v), nil
	case []byte:
		return BytesValue(v), nil
	case Link:
		return LinkValue(v), nil
	case *Link:
		if v == nil {
			return Null, nil
		}
		return LinkValue(*v), nil
	default:
		return Null, errors.Newf(errors.ErrorTypeValidation, "unsupported value type %T", x)
	}
}
