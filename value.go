// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package xows

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"

	"github.com/tidwall/gjson"
)

// Kind identifies which member of the Value union is set
type Kind uint8

const (
	// KindNull is the JSON null value (also the zero Value)
	KindNull Kind = iota

	// KindBool is a JSON boolean
	KindBool

	// KindNumber is a JSON number, kept in its textual form
	KindNumber

	// KindString is a JSON string
	KindString

	// KindList is an ordered JSON array
	KindList

	// KindMap is a JSON object whose member order is preserved
	KindMap
)

// String returns the name of the kind
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Field is a single member of a map Value
type Field struct {
	Key   string
	Value Value
}

// Value is a tagged union of the structures the device exchanges:
// null, bool, number, string, ordered list and ordered mapping.
//
// Values are immutable once constructed. The zero Value is null.
//
// Example:
//
//	v := xows.Map(
//	    xows.Field{Key: "Level", Value: xows.Int(50)},
//	    xows.Field{Key: "Mute", Value: xows.String("Off")},
//	)
//	level, _ := v.Get("Level").Int()
type Value struct {
	kind   Kind
	b      bool
	text   string // number literal or string contents
	items  []Value
	fields []Field
}

// Null returns the null Value
func Null() Value { return Value{} }

// Bool returns a boolean Value
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer number Value
func Int(i int64) Value {
	return Value{kind: KindNumber, text: strconv.FormatInt(i, 10)}
}

// Float returns a number Value. NaN and infinities are not representable in
// JSON and become null.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}
	}
	return Value{kind: KindNumber, text: strconv.FormatFloat(f, 'g', -1, 64)}
}

// String returns a string Value
func String(s string) Value { return Value{kind: KindString, text: s} }

// List returns a list Value holding items in order
func List(items ...Value) Value {
	return Value{kind: KindList, items: append([]Value(nil), items...)}
}

// Map returns a map Value holding fields in the given order.
// A later field with a duplicate key replaces the earlier one in place.
func Map(fields ...Field) Value {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		replaced := false
		for i := range out {
			if out[i].Key == f.Key {
				out[i].Value = f.Value
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, f)
		}
	}
	return Value{kind: KindMap, fields: out}
}

// ValueOf converts a Go value into a Value.
//
// Supported inputs are nil, Value, bool, integer and float types, string,
// json.Number, slices/arrays of supported values, and maps with string keys
// (members are sorted by key since Go maps are unordered). Any other type is
// round-tripped through encoding/json.
func ValueOf(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case json.Number:
		return Value{kind: KindNumber, text: x.String()}, nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return Value{kind: KindNumber, text: strconv.FormatUint(uint64(x), 10)}, nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return Value{kind: KindNumber, text: strconv.FormatUint(x, 10)}, nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case []Value:
		return List(x...), nil
	case []Field:
		return Map(x...), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item, err := ValueOf(rv.Index(i).Interface())
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			items = append(items, item)
		}
		return Value{kind: KindList, items: items}, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		fields := make([]Field, 0, len(keys))
		for _, k := range keys {
			item, err := ValueOf(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			fields = append(fields, Field{Key: k, Value: item})
		}
		return Value{kind: KindMap, fields: fields}, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("unsupported value %T: %w", v, err)
	}
	return ParseValue(data)
}

// MustValueOf is like ValueOf but panics on error.
// Intended for literals in tests and examples.
func MustValueOf(v any) Value {
	out, err := ValueOf(v)
	if err != nil {
		panic(err)
	}
	return out
}

// ParseValue decodes a JSON document into a Value, keeping object member order
func ParseValue(data []byte) (Value, error) {
	if !gjson.ValidBytes(data) {
		return Value{}, fmt.Errorf("invalid JSON value")
	}
	return valueFromResult(gjson.ParseBytes(data)), nil
}

// valueFromResult converts a gjson result. gjson iterates object members in
// document order, which is what keeps maps ordered.
func valueFromResult(r gjson.Result) Value {
	switch r.Type {
	case gjson.Null:
		return Null()
	case gjson.True:
		return Bool(true)
	case gjson.False:
		return Bool(false)
	case gjson.Number:
		return Value{kind: KindNumber, text: r.Raw}
	case gjson.String:
		return String(r.Str)
	case gjson.JSON:
		if r.IsArray() {
			items := []Value{}
			r.ForEach(func(_, item gjson.Result) bool {
				items = append(items, valueFromResult(item))
				return true
			})
			return Value{kind: KindList, items: items}
		}
		fields := []Field{}
		r.ForEach(func(key, item gjson.Result) bool {
			fields = append(fields, Field{Key: key.String(), Value: valueFromResult(item)})
			return true
		})
		return Map(fields...)
	}
	return Null()
}

// Kind reports which member of the union is set
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean and whether v is a bool
func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// Int returns the number as int64 and whether the conversion was exact
func (v Value) Int() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	if i, err := strconv.ParseInt(v.text, 10, 64); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(v.text, 64)
	if err != nil || f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

// Float returns the number as float64 and whether v is a number
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.text, 64)
	return f, err == nil
}

// Str returns the string and whether v is a string
func (v Value) Str() (string, bool) {
	return v.text, v.kind == KindString
}

// Items returns a copy of the list items (nil for non-lists)
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return append([]Value(nil), v.items...)
}

// Fields returns a copy of the map members in order (nil for non-maps)
func (v Value) Fields() []Field {
	if v.kind != KindMap {
		return nil
	}
	return append([]Field(nil), v.fields...)
}

// Len returns the number of list items or map members
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.items)
	case KindMap:
		return len(v.fields)
	}
	return 0
}

// Lookup returns the member named key of a map Value
func (v Value) Lookup(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	for _, f := range v.fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Get walks nested maps by member name and lists by decimal index.
// Missing members yield null.
func (v Value) Get(keys ...string) Value {
	cur := v
	for _, k := range keys {
		switch cur.kind {
		case KindMap:
			next, ok := cur.Lookup(k)
			if !ok {
				return Value{}
			}
			cur = next
		case KindList:
			i, err := strconv.Atoi(k)
			if err != nil || i < 0 || i >= len(cur.items) {
				return Value{}
			}
			cur = cur.items[i]
		default:
			return Value{}
		}
	}
	return cur
}

// Interface converts v into plain Go values (map[string]any, []any, float64,
// string, bool, nil). Map member order is lost.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		if i, ok := v.Int(); ok {
			return i
		}
		f, _ := v.Float()
		return f
	case KindString:
		return v.text
	case KindList:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.fields))
		for _, f := range v.fields {
			out[f.Key] = f.Value.Interface()
		}
		return out
	}
	return nil
}

// Equal reports deep equality. Numbers compare by numeric value, map
// members compare in order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		if v.text == o.text {
			return true
		}
		a, okA := v.Float()
		b, okB := o.Float()
		return okA && okB && a == b
	case KindString:
		return v.text == o.text
	case KindList:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.fields) != len(o.fields) {
			return false
		}
		for i := range v.fields {
			if v.fields[i].Key != o.fields[i].Key || !v.fields[i].Value.Equal(o.fields[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON implements json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.appendJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) appendJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		buf.WriteString(v.text)
	case KindString:
		s, err := json.Marshal(v.text)
		if err != nil {
			return err
		}
		buf.Write(s)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.appendJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		for i, f := range v.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(f.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := f.Value.appendJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("invalid value kind %d", v.kind)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// String returns the compact JSON form of v
func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid value: %v>", err)
	}
	return string(data)
}
