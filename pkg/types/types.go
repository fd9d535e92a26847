// Package types defines the value model of the data store: the closed set of
// column types, the tagged Value union that carries row data, and the
// serialize/deserialize hooks between values and their physical encoding in
// columnar files.
package types

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/x448/float16"

	"github.com/ajitpratap0/datastore/pkg/errors"
)

// Family is the logical type family of a column.
type Family string

const (
	FamilyNone  Family = "none"
	FamilyInt   Family = "int"
	FamilyFloat Family = "float"
	FamilyBool  Family = "bool"
	FamilyStr   Family = "str"
	FamilyBytes Family = "bytes"
	FamilyLink  Family = "link"
)

// Type is an immutable column type descriptor. Types of the same family with
// different bit widths are compatible and can be widened.
type Type struct {
	Family Family
	Bits   int
}

var (
	None    = Type{FamilyNone, 1}
	Int8    = Type{FamilyInt, 8}
	Int16   = Type{FamilyInt, 16}
	Int32   = Type{FamilyInt, 32}
	Int64   = Type{FamilyInt, 64}
	Float16 = Type{FamilyFloat, 16}
	Float32 = Type{FamilyFloat, 32}
	Float64 = Type{FamilyFloat, 64}
	Bool    = Type{FamilyBool, 1}
	Str     = Type{FamilyStr, 32}
	Bytes   = Type{FamilyBytes, 32}
	LinkT   = Type{FamilyLink, 32}
)

var typesByName = map[string]Type{
	"none":    None,
	"int8":    Int8,
	"int16":   Int16,
	"int32":   Int32,
	"int64":   Int64,
	"float16": Float16,
	"float32": Float32,
	"float64": Float64,
	"bool":    Bool,
	"str":     Str,
	"bytes":   Bytes,
	"link":    LinkT,
}

// String renders the descriptor name used in persisted schemas.
func (t Type) String() string {
	switch t.Family {
	case FamilyInt, FamilyFloat:
		return fmt.Sprintf("%s%d", t.Family, t.Bits)
	default:
		return string(t.Family)
	}
}

// ParseType parses a descriptor name such as "int64" or "str".
func ParseType(name string) (Type, error) {
	t, ok := typesByName[strings.TrimSpace(name)]
	if !ok {
		return Type{}, errors.Newf(errors.ErrorTypeIntegrity, "unknown type name %q", name)
	}
	return t, nil
}

// IsNone reports whether t is the "unknown yet" placeholder.
func (t Type) IsNone() bool {
	return t.Family == FamilyNone
}

// Compatible reports whether t and o belong to the same family.
func (t Type) Compatible(o Type) bool {
	return t.Family == o.Family
}

// Default returns the zero value of the type.
func (t Type) Default() Value {
	switch t.Family {
	case FamilyInt:
		return Int(0, t.Bits)
	case FamilyFloat:
		return Float(0, t.Bits)
	case FamilyBool:
		return BoolValue(false)
	case FamilyStr:
		return String("")
	case FamilyBytes:
		return BytesValue([]byte{})
	case FamilyLink:
		return LinkValue(Link{})
	default:
		return Null
	}
}

// Arrow returns the physical encoding of the type in columnar files. The none
// type has no physical column.
func (t Type) Arrow() (arrow.DataType, bool) {
	switch t {
	case Int8:
		return arrow.PrimitiveTypes.Int8, true
	case Int16:
		return arrow.PrimitiveTypes.Int16, true
	case Int32:
		return arrow.PrimitiveTypes.Int32, true
	case Int64:
		return arrow.PrimitiveTypes.Int64, true
	case Float16, Float32:
		return arrow.PrimitiveTypes.Float32, true
	case Float64:
		return arrow.PrimitiveTypes.Float64, true
	case Bool:
		return arrow.FixedWidthTypes.Boolean, true
	case Str, LinkT:
		return arrow.BinaryTypes.String, true
	case Bytes:
		return arrow.BinaryTypes.Binary, true
	default:
		return nil, false
	}
}

// Serialize converts v into the physical Go value stored for type t: int64,
// float32, float64, bool, string or []byte. Links are encoded to their
// canonical string.
func (t Type) Serialize(v Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if v.Kind() != kindOf(t.Family) {
		return nil, errors.Newf(errors.ErrorTypeSchemaConflict, "cannot store %s value in %s column", v.Type(), t)
	}
	switch t.Family {
	case FamilyInt:
		return v.i, nil
	case FamilyFloat:
		if t.Bits <= 32 {
			return float32(roundFloat(v.f, t.Bits)), nil
		}
		return v.f, nil
	case FamilyBool:
		return v.b, nil
	case FamilyStr:
		return v.s, nil
	case FamilyBytes:
		return v.raw, nil
	case FamilyLink:
		return v.link.Encode()
	}
	return nil, nil
}

// Deserialize is the inverse of Serialize.
func (t Type) Deserialize(physical any) (Value, error) {
	if physical == nil {
		return Null, nil
	}
	switch t.Family {
	case FamilyInt:
		switch p := physical.(type) {
		case int64:
			return Int(p, t.Bits), nil
		case int32:
			return Int(int64(p), t.Bits), nil
		case int16:
			return Int(int64(p), t.Bits), nil
		case int8:
			return Int(int64(p), t.Bits), nil
		}
	case FamilyFloat:
		switch p := physical.(type) {
		case float32:
			return Float(float64(p), t.Bits), nil
		case float64:
			return Float(p, t.Bits), nil
		}
	case FamilyBool:
		if p, ok := physical.(bool); ok {
			return BoolValue(p), nil
		}
	case FamilyStr:
		if p, ok := physical.(string); ok {
			return String(p), nil
		}
	case FamilyBytes:
		if p, ok := physical.([]byte); ok {
			return BytesValue(p), nil
		}
	case FamilyLink:
		if p, ok := physical.(string); ok {
			l, err := DecodeLink(p)
			if err != nil {
				return Null, err
			}
			return LinkValue(l), nil
		}
	}
	return Null, errors.Newf(errors.ErrorTypeIntegrity, "cannot decode %T as %s", physical, t)
}

// roundFloat rounds f to the precision of a float of the given width.
func roundFloat(f float64, bits int) float64 {
	switch {
	case bits <= 16:
		return float64(float16.Fromfloat32(float32(f)).Float32())
	case bits <= 32:
		return float64(float32(f))
	default:
		return f
	}
}
