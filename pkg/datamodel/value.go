package datamodel

import (
	"encoding/json"
	"math"
	"strconv"
)

// Value is a characteristic value tagged with its format. The tag and
// payload always change together, so a format/payload mismatch cannot
// be constructed outside this package.
type Value struct {
	format Format
	b      bool
	u      uint64
	i      int64
	f      float64
	s      string
}

// BoolValue returns a FormatBool value.
func BoolValue(v bool) Value {
	return Value{format: FormatBool, b: v}
}

// UIntValue returns an unsigned value with the given width format.
// Formats other than UInt8/16/32/64 panic; they indicate a programming
// error in accessory construction.
func UIntValue(f Format, v uint64) Value {
	switch f {
	case FormatUInt8, FormatUInt16, FormatUInt32, FormatUInt64:
		return Value{format: f, u: v}
	default:
		panic("datamodel: UIntValue with non-unsigned format")
	}
}

// IntValue returns a FormatInt value.
func IntValue(v int64) Value {
	return Value{format: FormatInt, i: v}
}

// FloatValue returns a FormatFloat value.
func FloatValue(v float64) Value {
	return Value{format: FormatFloat, f: v}
}

// StringValue returns a FormatString value.
func StringValue(v string) Value {
	return Value{format: FormatString, s: v}
}

// Format returns the value's format tag.
func (v Value) Format() Format {
	return v.format
}

// Bool returns the payload of a FormatBool value.
func (v Value) Bool() bool { return v.b }

// UInt returns the payload of an unsigned value.
func (v Value) UInt() uint64 { return v.u }

// Int returns the payload of a FormatInt value.
func (v Value) Int() int64 { return v.i }

// Float returns the payload of a FormatFloat value.
func (v Value) Float() float64 { return v.f }

// Str returns the payload of a FormatString value.
func (v Value) Str() string { return v.s }

// Equal reports whether two values have the same format and payload.
func (v Value) Equal(o Value) bool {
	return v == o
}

// Float64 widens any numeric payload to float64 for range checks.
// Strings return 0.
func (v Value) Float64() float64 {
	switch v.format {
	case FormatBool:
		if v.b {
			return 1
		}
		return 0
	case FormatUInt8, FormatUInt16, FormatUInt32, FormatUInt64:
		return float64(v.u)
	case FormatInt:
		return float64(v.i)
	case FormatFloat:
		return v.f
	default:
		return 0
	}
}

// appendJSON appends the compact JSON encoding of the value.
func (v Value) appendJSON(buf []byte) []byte {
	switch v.format {
	case FormatBool:
		if v.b {
			return append(buf, "true"...)
		}
		return append(buf, "false"...)
	case FormatUInt8, FormatUInt16, FormatUInt32, FormatUInt64:
		return strconv.AppendUint(buf, v.u, 10)
	case FormatInt:
		return strconv.AppendInt(buf, v.i, 10)
	case FormatFloat:
		return strconv.AppendFloat(buf, v.f, 'g', -1, 64)
	case FormatString:
		q, _ := json.Marshal(v.s)
		return append(buf, q...)
	default:
		return append(buf, "null"...)
	}
}

// formatMax returns the largest representable value of an unsigned
// format.
func formatMax(f Format) uint64 {
	switch f {
	case FormatUInt8:
		return math.MaxUint8
	case FormatUInt16:
		return math.MaxUint16
	case FormatUInt32:
		return math.MaxUint32
	default:
		return math.MaxUint64
	}
}

// ParseValue converts a decoded JSON value (as produced by
// encoding/json with UseNumber) into a Value of the wanted format.
// HomeKit controllers send booleans as true/false, 0/1 or "0"/"1"
// depending on client version, so numeric coercion is deliberate.
func ParseValue(format Format, raw any) (Value, bool) {
	switch format {
	case FormatBool:
		switch x := raw.(type) {
		case bool:
			return BoolValue(x), true
		case json.Number:
			n, err := x.Int64()
			if err != nil || (n != 0 && n != 1) {
				return Value{}, false
			}
			return BoolValue(n == 1), true
		case string:
			if x == "true" || x == "1" {
				return BoolValue(true), true
			}
			if x == "false" || x == "0" {
				return BoolValue(false), true
			}
			return Value{}, false
		}
		return Value{}, false

	case FormatUInt8, FormatUInt16, FormatUInt32, FormatUInt64:
		n, ok := rawNumber(raw)
		if !ok {
			return Value{}, false
		}
		u, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil || u > formatMax(format) {
			return Value{}, false
		}
		return UIntValue(format, u), true

	case FormatInt:
		n, ok := rawNumber(raw)
		if !ok {
			return Value{}, false
		}
		i, err := n.Int64()
		if err != nil || i < math.MinInt32 || i > math.MaxInt32 {
			return Value{}, false
		}
		return IntValue(i), true

	case FormatFloat:
		n, ok := rawNumber(raw)
		if !ok {
			return Value{}, false
		}
		f, err := n.Float64()
		if err != nil {
			return Value{}, false
		}
		return FloatValue(f), true

	case FormatString:
		s, ok := raw.(string)
		if !ok {
			return Value{}, false
		}
		return StringValue(s), true
	}
	return Value{}, false
}

func rawNumber(raw any) (json.Number, bool) {
	switch x := raw.(type) {
	case json.Number:
		return x, true
	case bool:
		if x {
			return json.Number("1"), true
		}
		return json.Number("0"), true
	}
	return "", false
}
