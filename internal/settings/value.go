// Package settings owns the persisted, nested configuration tree shared by
// all managers.
//
// The tree maps a manager name to an arbitrarily nested structure of maps,
// lists, and scalars. Values are represented by the tagged Value type so that
// type confusion is caught at the store boundary rather than at use sites.
// All mutation funnels through the Store, which merges, persists, and
// notifies as one logical step.
package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the type held by a Value.
type Kind uint8

const (
	// KindInvalid is the zero Value.
	KindInvalid Kind = iota
	// KindBool holds a boolean.
	KindBool
	// KindInt holds a signed integer.
	KindInt
	// KindFloat holds a floating-point number.
	KindFloat
	// KindString holds text.
	KindString
	// KindList holds an ordered sequence of values.
	KindList
	// KindMap holds a string-keyed mapping of values.
	KindMap
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

// Value is a tagged settings value. The zero Value is invalid.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	m    map[string]Value
}

// BoolValue returns a boolean Value.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// IntValue returns an integer Value.
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// FloatValue returns a floating-point Value.
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

// StringValue returns a text Value.
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// ListValue returns a sequence Value holding the given items.
func ListValue(items ...Value) Value {
	return Value{kind: KindList, list: items}
}

// MapValue returns a mapping Value. The map is used directly, not copied.
func MapValue(m map[string]Value) Value {
	if m == nil {
		m = make(map[string]Value)
	}
	return Value{kind: KindMap, m: m}
}

// Kind returns the kind of the value.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether the value holds anything.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// Bool returns the boolean payload, or false for other kinds.
func (v Value) Bool() bool { return v.kind == KindBool && v.b }

// Int returns the integer payload, or 0 for other kinds.
func (v Value) Int() int64 {
	if v.kind == KindInt {
		return v.i
	}
	return 0
}

// Float returns the float payload. An integer value is widened; other kinds
// yield 0.
func (v Value) Float() float64 {
	switch v.kind {
	case KindFloat:
		return v.f
	case KindInt:
		return float64(v.i)
	default:
		return 0
	}
}

// Str returns the string payload, or "" for other kinds.
func (v Value) Str() string {
	if v.kind == KindString {
		return v.s
	}
	return ""
}

// List returns the underlying sequence, or nil for other kinds.
func (v Value) List() []Value {
	if v.kind == KindList {
		return v.list
	}
	return nil
}

// Map returns the underlying mapping, or nil for other kinds.
func (v Value) Map() map[string]Value {
	if v.kind == KindMap {
		return v.m
	}
	return nil
}

// Len returns the element count for lists and maps, 0 otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.m)
	default:
		return 0
	}
}

// Index returns the i-th element of a list value.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindList || i < 0 || i >= len(v.list) {
		return Value{}, false
	}
	return v.list[i], true
}

// Key returns the value stored under k in a map value.
func (v Value) Key(k string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	item, ok := v.m[k]
	return item, ok
}

// Keys returns the sorted keys of a map value.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.m))
	for k := range v.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of the value.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			items[i] = item.Clone()
		}
		return Value{kind: KindList, list: items}
	case KindMap:
		m := make(map[string]Value, len(v.m))
		for k, item := range v.m {
			m[k] = item.Clone()
		}
		return Value{kind: KindMap, m: m}
	default:
		return v
	}
}

// Equal reports deep equality of two values. Kinds must match exactly; an
// int never equals a float even when numerically identical.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == other.b
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, item := range v.m {
			o, ok := other.m[k]
			if !ok || !item.Equal(o) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Any converts the value to native Go types (bool, int64, float64, string,
// []any, map[string]any).
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Any()
		}
		return out
	case KindMap:
		m := make(map[string]any, len(v.m))
		for k, item := range v.m {
			m[k] = item.Any()
		}
		return m
	default:
		return nil
	}
}

// FromAny converts native Go types into a Value. Unsupported types fail.
func FromAny(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Value{}, fmt.Errorf("cannot represent nil as a settings value")
	case bool:
		return BoolValue(t), nil
	case int:
		return IntValue(int64(t)), nil
	case int64:
		return IntValue(t), nil
	case float64:
		return FloatValue(t), nil
	case float32:
		return FloatValue(float64(t)), nil
	case string:
		return StringValue(t), nil
	case json.Number:
		return numberValue(t)
	case []any:
		items := make([]Value, len(t))
		for i, raw := range t {
			item, err := FromAny(raw)
			if err != nil {
				return Value{}, err
			}
			items[i] = item
		}
		return ListValue(items...), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, raw := range t {
			item, err := FromAny(raw)
			if err != nil {
				return Value{}, err
			}
			m[k] = item
		}
		return MapValue(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported settings value type %T", v)
	}
}

// numberValue preserves the int/float split that encoding/json flattens.
func numberValue(n json.Number) (Value, error) {
	text := n.String()
	if !strings.ContainsAny(text, ".eE") {
		if i, err := n.Int64(); err == nil {
			return IntValue(i), nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return Value{}, fmt.Errorf("invalid number %q: %w", text, err)
	}
	return FloatValue(f), nil
}

// String renders the value in a compact literal form used by status output.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindList, KindMap:
		data, err := v.MarshalJSON()
		if err != nil {
			return "<unprintable>"
		}
		return string(data)
	default:
		return "<invalid>"
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindList:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			data, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindMap:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			data, err := v.m[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("cannot marshal invalid settings value")
	}
}

// UnmarshalJSON implements json.Unmarshaler, preserving integer subtypes.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseJSON decodes a JSON document into a Value, distinguishing integers
// from floats by their literal form.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, err
	}
	return FromAny(raw)
}
