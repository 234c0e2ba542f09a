// Package godot implements the subset of Godot's binary variant serialization
// used by the game's weblobby packets.
//
// Every payload is a tagged variant: null, bool, int, float, string, vector2,
// vector3, dictionary, or array. Modeling payloads as an explicit tagged type
// means every layer above this one pattern-matches on the kind instead of
// runtime-casting, and a malformed payload becomes a decode error rather than
// a crash.
package godot

import "fmt"

// Kind enumerates the variant types the codec understands.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindVector2
	KindVector3
	KindDictionary
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindVector2:
		return "vector2"
	case KindVector3:
		return "vector3"
	case KindDictionary:
		return "dictionary"
	case KindArray:
		return "array"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Vector2 is a 2D float vector matching Godot's Vector2.
type Vector2 struct {
	X, Y float32
}

// Vector3 is a 3D float vector matching Godot's Vector3.
type Vector3 struct {
	X, Y, Z float32
}

// Value is one tagged variant. The zero value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	v2   Vector2
	v3   Vector3
	dict *Dictionary
	arr  []Value
}

func Nil() Value               { return Value{kind: KindNull} }
func Bool(v bool) Value        { return Value{kind: KindBool, b: v} }
func Int(v int64) Value        { return Value{kind: KindInt, i: v} }
func Float(v float64) Value    { return Value{kind: KindFloat, f: v} }
func String(v string) Value    { return Value{kind: KindString, s: v} }
func Vec2(v Vector2) Value     { return Value{kind: KindVector2, v2: v} }
func Vec3(v Vector3) Value     { return Value{kind: KindVector3, v3: v} }
func Array(vs ...Value) Value  { return Value{kind: KindArray, arr: vs} }
func Dict(d *Dictionary) Value { return Value{kind: KindDictionary, dict: d} }

// Kind returns the variant's tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the variant is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean payload, or false for any other kind.
func (v Value) Bool() bool { return v.kind == KindBool && v.b }

// Int returns the integer payload. Floats are truncated the way the game's
// own scripts coerce them; every other kind yields zero.
func (v Value) Int() int64 {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return int64(v.f)
	}
	return 0
}

// Float returns the float payload, widening integers; other kinds yield zero.
func (v Value) Float() float64 {
	switch v.kind {
	case KindFloat:
		return v.f
	case KindInt:
		return float64(v.i)
	}
	return 0
}

// Str returns the string payload, or "" for any other kind.
func (v Value) Str() string {
	if v.kind == KindString {
		return v.s
	}
	return ""
}

// Vector2 returns the vector payload, or the zero vector for any other kind.
func (v Value) Vector2() Vector2 {
	if v.kind == KindVector2 {
		return v.v2
	}
	return Vector2{}
}

// Vector3 returns the vector payload, or the zero vector for any other kind.
func (v Value) Vector3() Vector3 {
	if v.kind == KindVector3 {
		return v.v3
	}
	return Vector3{}
}

// Dict returns the dictionary payload, or nil for any other kind.
func (v Value) Dict() *Dictionary {
	if v.kind == KindDictionary {
		return v.dict
	}
	return nil
}

// Array returns the array payload, or nil for any other kind.
func (v Value) Array() []Value {
	if v.kind == KindArray {
		return v.arr
	}
	return nil
}

// Equal compares two variants by kind and scalar payload. Dictionary and array
// keys are never equal to anything; the game does not use composite keys.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindVector2:
		return v.v2 == o.v2
	case KindVector3:
		return v.v3 == o.v3
	}
	return false
}

// DictEntry is one key/value pair in a Dictionary.
type DictEntry struct {
	Key   Value
	Value Value
}

// Dictionary is an insertion-ordered variant map. Godot dictionaries preserve
// insertion order and so does the wire format; a plain Go map would shuffle
// entries on every encode.
type Dictionary struct {
	entries []DictEntry
}

// NewDictionary returns an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{}
}

// Len returns the number of entries.
func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}

// Entries returns the key/value pairs in insertion order. The slice is shared;
// callers must not mutate it.
func (d *Dictionary) Entries() []DictEntry {
	if d == nil {
		return nil
	}
	return d.entries
}

// Set inserts or replaces the value stored under key.
func (d *Dictionary) Set(key, value Value) {
	for i, e := range d.entries {
		if e.Key.Equal(key) {
			d.entries[i].Value = value
			return
		}
	}
	d.entries = append(d.entries, DictEntry{Key: key, Value: value})
}

// Get returns the value stored under key.
func (d *Dictionary) Get(key Value) (Value, bool) {
	if d == nil {
		return Value{}, false
	}
	for _, e := range d.entries {
		if e.Key.Equal(key) {
			return e.Value, true
		}
	}
	return Value{}, false
}

// SetString is Set with a string key, the common case for game packets.
func (d *Dictionary) SetString(key string, value Value) {
	d.Set(String(key), value)
}

// GetString is Get with a string key.
func (d *Dictionary) GetString(key string) (Value, bool) {
	return d.Get(String(key))
}

// StringField returns the string stored under key, or "" if the key is absent
// or holds a different kind.
func (d *Dictionary) StringField(key string) string {
	v, _ := d.GetString(key)
	return v.Str()
}

// IntField returns the integer stored under key, coercing floats, or 0.
func (d *Dictionary) IntField(key string) int64 {
	v, _ := d.GetString(key)
	return v.Int()
}
