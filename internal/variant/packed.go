package variant

import (
	"fmt"

	"github.com/danmuck/spectre/internal/faults"
)

// Packed is the wire-safe image of a Variant: same shape, object handles
// replaced by their ObjectID.
type Packed struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	fs   []float64
	list []Packed
	m    PackedMap
	id   ObjectID
}

// PackedMap is the argument form sent for construction and method calls.
type PackedMap map[string]Packed

func (p Packed) Kind() Kind { return p.kind }

// ObjectID returns the referenced id of an object-kind value.
func (p Packed) ObjectID() (ObjectID, bool) {
	return p.id, p.kind == KindObject
}

// Refs appends every ObjectID referenced by p, depth first.
func (p Packed) Refs(dst []ObjectID) []ObjectID {
	switch p.kind {
	case KindObject:
		return append(dst, p.id)
	case KindList:
		for _, el := range p.list {
			dst = el.Refs(dst)
		}
	case KindMap:
		for _, k := range sortedKeys(p.m) {
			dst = p.m[k].Refs(dst)
		}
	}
	return dst
}

// Catalog is the participant-local view of the object table used to pack and
// unpack references.
type Catalog interface {
	Contains(id ObjectID) bool
	Lookup(id ObjectID) (Object, bool)
}

// Pack replaces every embedded object handle with its id. Each id must exist
// in the packing participant's catalog.
func Pack(v Variant, c Catalog) (Packed, error) {
	switch v.kind {
	case KindNone:
		return Packed{}, nil
	case KindBool:
		return Packed{kind: KindBool, b: v.b}, nil
	case KindInt:
		return Packed{kind: KindInt, i: v.i}, nil
	case KindFloat:
		return Packed{kind: KindFloat, f: v.f}, nil
	case KindString:
		return Packed{kind: KindString, s: v.s}, nil
	case KindFloats:
		return Packed{kind: KindFloats, fs: append([]float64(nil), v.fs...)}, nil
	case KindList:
		out := make([]Packed, len(v.list))
		for i, el := range v.list {
			p, err := Pack(el, c)
			if err != nil {
				return Packed{}, err
			}
			out[i] = p
		}
		return Packed{kind: KindList, list: out}, nil
	case KindMap:
		m, err := PackMap(v.m, c)
		if err != nil {
			return Packed{}, err
		}
		return Packed{kind: KindMap, m: m}, nil
	case KindObject:
		if v.obj == nil {
			return Packed{}, faults.Wrap(faults.ErrUnknownReference, "nil object handle")
		}
		id := v.obj.ObjectID()
		if c == nil || !c.Contains(id) {
			return Packed{}, faults.Wrap(faults.ErrUnknownReference, "object %d", id)
		}
		return Packed{kind: KindObject, id: id}, nil
	default:
		return Packed{}, faults.Wrap(faults.ErrTypeMismatch, "unsupported kind %s", v.kind)
	}
}

// PackMap packs every entry of m.
func PackMap(m Map, c Catalog) (PackedMap, error) {
	out := make(PackedMap, len(m))
	for _, k := range sortedKeys(m) {
		p, err := Pack(m[k], c)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = p
	}
	return out, nil
}

// Unpack resolves every ObjectID through the unpacking participant's own
// catalog. A missing id means the tables have diverged.
func Unpack(p Packed, c Catalog) (Variant, error) {
	switch p.kind {
	case KindNone:
		return Variant{}, nil
	case KindBool:
		return Variant{kind: KindBool, b: p.b}, nil
	case KindInt:
		return Variant{kind: KindInt, i: p.i}, nil
	case KindFloat:
		return Variant{kind: KindFloat, f: p.f}, nil
	case KindString:
		return Variant{kind: KindString, s: p.s}, nil
	case KindFloats:
		return Variant{kind: KindFloats, fs: append([]float64(nil), p.fs...)}, nil
	case KindList:
		out := make([]Variant, len(p.list))
		for i, el := range p.list {
			v, err := Unpack(el, c)
			if err != nil {
				return Variant{}, err
			}
			out[i] = v
		}
		return Variant{kind: KindList, list: out}, nil
	case KindMap:
		m, err := UnpackMap(p.m, c)
		if err != nil {
			return Variant{}, err
		}
		return Variant{kind: KindMap, m: m}, nil
	case KindObject:
		if c == nil {
			return Variant{}, faults.Wrap(faults.ErrUnknownReference, "object %d", p.id)
		}
		obj, ok := c.Lookup(p.id)
		if !ok {
			return Variant{}, faults.Wrap(faults.ErrUnknownReference, "object %d", p.id)
		}
		return Variant{kind: KindObject, obj: obj}, nil
	default:
		return Variant{}, faults.Wrap(faults.ErrMalformedPayload, "unsupported kind %s", p.kind)
	}
}

// UnpackMap unpacks every entry of m.
func UnpackMap(m PackedMap, c Catalog) (Map, error) {
	out := make(Map, len(m))
	for _, k := range sortedKeys(m) {
		v, err := Unpack(m[k], c)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
