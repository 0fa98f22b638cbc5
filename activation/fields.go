/*
 * This file is part of the device-activator distribution (https://github.com/mlipscombe/device-activator).
 * Copyright (c) 2021-2026 Mark Lipscombe.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, version 3.
 *
 * This program is distributed in the hope that it will be useful, but
 * WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU
 * General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program. If not, see <http://www.gnu.org/licenses/>.
 */

package activation

import (
	"bytes"
	"fmt"
	"sort"
	"time"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	StringKind Kind = iota
	BoolKind
	IntegerKind
	RealKind
	DateKind
	BytesKind
	ArrayKind
	NestedKind
)

func (k Kind) String() string {
	switch k {
	case StringKind:
		return "string"
	case BoolKind:
		return "bool"
	case IntegerKind:
		return "integer"
	case RealKind:
		return "real"
	case DateKind:
		return "date"
	case BytesKind:
		return "bytes"
	case ArrayKind:
		return "array"
	case NestedKind:
		return "nested"
	}
	return "unknown"
}

// Value is a single field value. Exactly one payload is meaningful, selected by Kind.
type Value struct {
	kind   Kind
	str    string
	b      bool
	i      int64
	f      float64
	t      time.Time
	data   []byte
	array  []Value
	nested *Fields
}

func String(s string) Value { return Value{kind: StringKind, str: s} }

func Bool(b bool) Value { return Value{kind: BoolKind, b: b} }

func Integer(i int64) Value { return Value{kind: IntegerKind, i: i} }

func Real(f float64) Value { return Value{kind: RealKind, f: f} }

func Date(t time.Time) Value { return Value{kind: DateKind, t: t} }

// Bytes copies data into a new Value.
func Bytes(data []byte) Value {
	buf := make([]byte, len(data))
	copy(buf, data)
	return Value{kind: BytesKind, data: buf}
}

func Array(items ...Value) Value {
	arr := make([]Value, len(items))
	copy(arr, items)
	return Value{kind: ArrayKind, array: arr}
}

// Nested wraps a clone of f.
func Nested(f *Fields) Value {
	return Value{kind: NestedKind, nested: f.Clone()}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsString() bool { return v.kind == StringKind }

// Str returns the string payload; ok is false for any other kind.
func (v Value) Str() (string, bool) {
	if v.kind != StringKind {
		return "", false
	}
	return v.str, true
}

func (v Value) BoolValue() (bool, bool) {
	if v.kind != BoolKind {
		return false, false
	}
	return v.b, true
}

func (v Value) IntegerValue() (int64, bool) {
	if v.kind != IntegerKind {
		return 0, false
	}
	return v.i, true
}

func (v Value) BytesValue() ([]byte, bool) {
	if v.kind != BytesKind {
		return nil, false
	}
	buf := make([]byte, len(v.data))
	copy(buf, v.data)
	return buf, true
}

func (v Value) ArrayValue() ([]Value, bool) {
	if v.kind != ArrayKind {
		return nil, false
	}
	arr := make([]Value, len(v.array))
	copy(arr, v.array)
	return arr, true
}

// NestedValue returns a clone of the nested store.
func (v Value) NestedValue() (*Fields, bool) {
	if v.kind != NestedKind {
		return nil, false
	}
	return v.nested.Clone(), true
}

// Equal reports whether both values hold the same variant and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case StringKind:
		return v.str == o.str
	case BoolKind:
		return v.b == o.b
	case IntegerKind:
		return v.i == o.i
	case RealKind:
		return v.f == o.f
	case DateKind:
		return v.t.Equal(o.t)
	case BytesKind:
		return bytes.Equal(v.data, o.data)
	case ArrayKind:
		if len(v.array) != len(o.array) {
			return false
		}
		for i := range v.array {
			if !v.array[i].Equal(o.array[i]) {
				return false
			}
		}
		return true
	case NestedKind:
		return v.nested.Equal(o.nested)
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case StringKind:
		return v.str
	case BoolKind:
		return fmt.Sprintf("%t", v.b)
	case IntegerKind:
		return fmt.Sprintf("%d", v.i)
	case RealKind:
		return fmt.Sprintf("%g", v.f)
	case DateKind:
		return v.t.UTC().Format(time.RFC3339)
	case BytesKind:
		return fmt.Sprintf("<%d bytes>", len(v.data))
	case ArrayKind:
		return fmt.Sprintf("<array of %d>", len(v.array))
	case NestedKind:
		return fmt.Sprintf("<dict of %d>", v.nested.Len())
	}
	return ""
}

// Fields is an insertion-ordered map of unique keys to values.
// The zero value is not usable; create with NewFields.
type Fields struct {
	keys   []string
	values map[string]Value
}

func NewFields() *Fields {
	return &Fields{values: make(map[string]Value)}
}

// Set stores v under key. A new key is appended; an existing key keeps its position.
func (f *Fields) Set(key string, v Value) {
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = v
}

func (f *Fields) SetString(key, value string) {
	f.Set(key, String(value))
}

func (f *Fields) Get(key string) (Value, bool) {
	if f == nil {
		return Value{}, false
	}
	v, ok := f.values[key]
	return v, ok
}

// GetString returns the value under key when it is a string.
func (f *Fields) GetString(key string) (string, bool) {
	v, ok := f.Get(key)
	if !ok {
		return "", false
	}
	return v.Str()
}

func (f *Fields) Has(key string) bool {
	_, ok := f.Get(key)
	return ok
}

func (f *Fields) Delete(key string) {
	if _, ok := f.values[key]; !ok {
		return
	}
	delete(f.values, key)
	for i, k := range f.keys {
		if k == key {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			break
		}
	}
}

func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

// Keys returns the keys in insertion order.
func (f *Fields) Keys() []string {
	if f == nil {
		return nil
	}
	keys := make([]string, len(f.keys))
	copy(keys, f.keys)
	return keys
}

// Each calls fn for every entry in insertion order.
func (f *Fields) Each(fn func(key string, v Value)) {
	if f == nil {
		return
	}
	for _, k := range f.keys {
		fn(k, f.values[k])
	}
}

// Merge copies every entry of other into f, overwriting existing keys.
func (f *Fields) Merge(other *Fields) {
	other.Each(func(key string, v Value) {
		f.Set(key, v)
	})
}

func (f *Fields) Clone() *Fields {
	c := NewFields()
	if f == nil {
		return c
	}
	c.keys = append(c.keys, f.keys...)
	for k, v := range f.values {
		c.values[k] = v
	}
	return c
}

// Equal compares key sets and values; insertion order is not significant.
func (f *Fields) Equal(o *Fields) bool {
	if f.Len() != o.Len() {
		return false
	}
	for _, k := range f.Keys() {
		ov, ok := o.Get(k)
		if !ok || !f.values[k].Equal(ov) {
			return false
		}
	}
	return true
}

// native converts v to the representation howett.net/plist marshals.
func (v Value) native() interface{} {
	switch v.kind {
	case StringKind:
		return v.str
	case BoolKind:
		return v.b
	case IntegerKind:
		return v.i
	case RealKind:
		return v.f
	case DateKind:
		return v.t
	case BytesKind:
		return v.data
	case ArrayKind:
		arr := make([]interface{}, len(v.array))
		for i, item := range v.array {
			arr[i] = item.native()
		}
		return arr
	case NestedKind:
		return v.nested.native()
	}
	return nil
}

func (f *Fields) native() map[string]interface{} {
	m := make(map[string]interface{}, f.Len())
	f.Each(func(key string, v Value) {
		m[key] = v.native()
	})
	return m
}

// valueFromNative converts a decoded property-list value into a Value.
func valueFromNative(x interface{}) (Value, error) {
	switch t := x.(type) {
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int64:
		return Integer(t), nil
	case uint64:
		return Integer(int64(t)), nil
	case int:
		return Integer(int64(t)), nil
	case float64:
		return Real(t), nil
	case float32:
		return Real(float64(t)), nil
	case time.Time:
		return Date(t), nil
	case []byte:
		return Bytes(t), nil
	case []interface{}:
		arr := make([]Value, 0, len(t))
		for _, item := range t {
			v, err := valueFromNative(item)
			if err != nil {
				return Value{}, err
			}
			arr = append(arr, v)
		}
		return Value{kind: ArrayKind, array: arr}, nil
	case map[string]interface{}:
		f, err := fieldsFromNative(t)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: NestedKind, nested: f}, nil
	}
	return Value{}, fmt.Errorf("unsupported property list value of type %T", x)
}

// fieldsFromNative inserts keys in sorted order since plist dictionaries carry no order.
func fieldsFromNative(m map[string]interface{}) (*Fields, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	f := NewFields()
	for _, k := range keys {
		v, err := valueFromNative(m[k])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		f.Set(k, v)
	}
	return f, nil
}
