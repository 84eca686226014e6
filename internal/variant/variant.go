package variant

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/danmuck/spectre/internal/faults"
)

// ObjectID is the group-wide identity of a managed object.
type ObjectID uint64

// Kind tags the active member of a Variant or Packed value.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindFloats
	KindList
	KindMap
	KindObject
)

var kindNames = [...]string{"none", "bool", "int", "float", "string", "floats", "list", "map", "object"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Object is a node-local handle to a managed object. Only its id travels.
type Object interface {
	ObjectID() ObjectID
}

// Variant is the in-process value type passed to constructors, parameters,
// and methods. The zero value is None.
type Variant struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	fs   []float64
	list []Variant
	m    Map
	obj  Object
}

// Map is a named-parameter map.
type Map map[string]Variant

func None() Variant { return Variant{} }

func Bool(v bool) Variant { return Variant{kind: KindBool, b: v} }

func Int(v int64) Variant { return Variant{kind: KindInt, i: v} }

func Float(v float64) Variant { return Variant{kind: KindFloat, f: v} }

func String(v string) Variant { return Variant{kind: KindString, s: v} }

// Floats builds a number sequence; the input slice is copied.
func Floats(v ...float64) Variant {
	return Variant{kind: KindFloats, fs: append([]float64(nil), v...)}
}

func List(v ...Variant) Variant {
	return Variant{kind: KindList, list: append([]Variant(nil), v...)}
}

func MapOf(m Map) Variant { return Variant{kind: KindMap, m: cloneMap(m)} }

// Ref wraps a node-local object handle.
func Ref(o Object) Variant { return Variant{kind: KindObject, obj: o} }

func (v Variant) Kind() Kind { return v.kind }

func (v Variant) IsNone() bool { return v.kind == KindNone }

// Len is the element count of strings, sequences, and maps; zero otherwise.
func (v Variant) Len() int { return v.length() }

func (v Variant) mismatch(want Kind) error {
	return faults.Wrap(faults.ErrTypeMismatch, "have %s, want %s", v.kind, want)
}

func (v Variant) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, v.mismatch(KindBool)
	}
	return v.b, nil
}

func (v Variant) AsInt() (int64, error) {
	if v.kind != KindInt {
		return 0, v.mismatch(KindInt)
	}
	return v.i, nil
}

// AsFloat accepts integers as well.
func (v Variant) AsFloat() (float64, error) {
	switch v.kind {
	case KindFloat:
		return v.f, nil
	case KindInt:
		return float64(v.i), nil
	default:
		return 0, v.mismatch(KindFloat)
	}
}

func (v Variant) AsString() (string, error) {
	if v.kind != KindString {
		return "", v.mismatch(KindString)
	}
	return v.s, nil
}

// AsFloats accepts a number sequence or a list whose elements are all numbers.
func (v Variant) AsFloats() ([]float64, error) {
	switch v.kind {
	case KindFloats:
		return append([]float64(nil), v.fs...), nil
	case KindList:
		out := make([]float64, len(v.list))
		for i, el := range v.list {
			f, err := el.AsFloat()
			if err != nil {
				return nil, faults.Wrap(faults.ErrTypeMismatch, "element %d: have %s, want number", i, el.kind)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, v.mismatch(KindFloats)
	}
}

func (v Variant) AsList() ([]Variant, error) {
	if v.kind != KindList {
		return nil, v.mismatch(KindList)
	}
	return append([]Variant(nil), v.list...), nil
}

func (v Variant) AsMap() (Map, error) {
	if v.kind != KindMap {
		return nil, v.mismatch(KindMap)
	}
	return cloneMap(v.m), nil
}

func (v Variant) AsObject() (Object, error) {
	if v.kind != KindObject || v.obj == nil {
		return nil, v.mismatch(KindObject)
	}
	return v.obj, nil
}

func (v Variant) length() int {
	switch v.kind {
	case KindString:
		return len(v.s)
	case KindFloats:
		return len(v.fs)
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.m)
	default:
		return 0
	}
}

// Equal compares structurally. Floats compare bitwise so NaN equals NaN;
// object references compare by ObjectID.
func Equal(a, b Variant) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNone:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return math.Float64bits(a.f) == math.Float64bits(b.f)
	case KindString:
		return a.s == b.s
	case KindFloats:
		return floatsEqual(a.fs, b.fs)
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return MapsEqual(a.m, b.m)
	case KindObject:
		if a.obj == nil || b.obj == nil {
			return a.obj == nil && b.obj == nil
		}
		return a.obj.ObjectID() == b.obj.ObjectID()
	default:
		return false
	}
}

// MapsEqual compares two parameter maps with Equal.
func MapsEqual(a, b Map) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !Equal(av, bv) {
			return false
		}
	}
	return true
}

func (v Variant) String() string {
	var sb strings.Builder
	v.format(&sb)
	return sb.String()
}

func (v Variant) format(sb *strings.Builder) {
	switch v.kind {
	case KindNone:
		sb.WriteString("none")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		sb.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		sb.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindString:
		sb.WriteString(strconv.Quote(v.s))
	case KindFloats:
		sb.WriteString(fmt.Sprint(v.fs))
	case KindList:
		sb.WriteByte('[')
		for i, el := range v.list {
			if i > 0 {
				sb.WriteString(", ")
			}
			el.format(sb)
		}
		sb.WriteByte(']')
	case KindMap:
		sb.WriteByte('{')
		for i, k := range sortedKeys(v.m) {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			v.m[k].format(sb)
		}
		sb.WriteByte('}')
	case KindObject:
		if v.obj == nil {
			sb.WriteString("object(nil)")
			return
		}
		fmt.Fprintf(sb, "object(%d)", v.obj.ObjectID())
	}
}

func floatsEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Float64bits(a[i]) != math.Float64bits(b[i]) {
			return false
		}
	}
	return true
}

func cloneMap(in Map) Map {
	out := make(Map, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
