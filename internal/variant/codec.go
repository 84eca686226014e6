package variant

import (
	"math"

	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/protocol/tlv"
)

// Nested field ids inside list and map payloads.
const (
	elemFieldID  uint16 = 0
	mapKeyField  uint16 = 0
	mapValField  uint16 = 1
	maxNestDepth        = 64
)

// EncodeField encodes p as one TLV field with the given id.
func EncodeField(id uint16, p Packed) tlv.Field {
	switch p.kind {
	case KindBool:
		b := byte(0)
		if p.b {
			b = 1
		}
		return tlv.Field{ID: id, Type: tlv.TypeBool, Value: []byte{b}}
	case KindInt:
		return tlv.Field{ID: id, Type: tlv.TypeI64, Value: tlv.PutU64(uint64(p.i))}
	case KindFloat:
		return tlv.Field{ID: id, Type: tlv.TypeF64, Value: tlv.PutU64(math.Float64bits(p.f))}
	case KindString:
		return tlv.Field{ID: id, Type: tlv.TypeString, Value: []byte(p.s)}
	case KindFloats:
		return tlv.Field{ID: id, Type: tlv.TypeF64s, Value: tlv.PutF64s(p.fs)}
	case KindList:
		fields := make([]tlv.Field, len(p.list))
		for i, el := range p.list {
			fields[i] = EncodeField(elemFieldID, el)
		}
		return tlv.Field{ID: id, Type: tlv.TypeList, Value: tlv.EncodeFields(fields)}
	case KindMap:
		return EncodeMapField(id, p.m)
	case KindObject:
		return tlv.Field{ID: id, Type: tlv.TypeObject, Value: tlv.PutU64(uint64(p.id))}
	default:
		return tlv.Field{ID: id, Type: tlv.TypeNone}
	}
}

// EncodeMapField encodes m as one map-typed field. Keys are written sorted
// so equal maps always produce equal bytes.
func EncodeMapField(id uint16, m PackedMap) tlv.Field {
	fields := make([]tlv.Field, 0, 2*len(m))
	for _, k := range sortedKeys(m) {
		fields = append(fields,
			tlv.Field{ID: mapKeyField, Type: tlv.TypeString, Value: []byte(k)},
			EncodeField(mapValField, m[k]),
		)
	}
	return tlv.Field{ID: id, Type: tlv.TypeMap, Value: tlv.EncodeFields(fields)}
}

// DecodeField decodes one TLV field produced by EncodeField.
func DecodeField(f tlv.Field) (Packed, error) {
	return decodeField(f, 0)
}

// DecodeMapField decodes a map-typed field produced by EncodeMapField.
func DecodeMapField(f tlv.Field) (PackedMap, error) {
	if f.Type != tlv.TypeMap {
		return nil, faults.Wrap(faults.ErrMalformedPayload, "field %d: want map, got type %d", f.ID, f.Type)
	}
	return decodeMap(f.Value, 0)
}

func decodeField(f tlv.Field, depth int) (Packed, error) {
	if depth > maxNestDepth {
		return Packed{}, faults.Wrap(faults.ErrMalformedPayload, "nesting deeper than %d", maxNestDepth)
	}
	switch f.Type {
	case tlv.TypeNone:
		if len(f.Value) != 0 {
			return Packed{}, malformedLength(f)
		}
		return Packed{}, nil
	case tlv.TypeBool:
		if len(f.Value) != 1 || f.Value[0] > 1 {
			return Packed{}, malformedLength(f)
		}
		return Packed{kind: KindBool, b: f.Value[0] == 1}, nil
	case tlv.TypeI64:
		v, err := tlv.U64FromBytes(f.Value)
		if err != nil {
			return Packed{}, malformedLength(f)
		}
		return Packed{kind: KindInt, i: int64(v)}, nil
	case tlv.TypeF64:
		v, err := tlv.U64FromBytes(f.Value)
		if err != nil {
			return Packed{}, malformedLength(f)
		}
		return Packed{kind: KindFloat, f: math.Float64frombits(v)}, nil
	case tlv.TypeString:
		return Packed{kind: KindString, s: string(f.Value)}, nil
	case tlv.TypeF64s:
		fs, err := tlv.F64sFromBytes(f.Value)
		if err != nil {
			return Packed{}, malformedLength(f)
		}
		return Packed{kind: KindFloats, fs: fs}, nil
	case tlv.TypeList:
		children, err := tlv.DecodeFields(f.Value)
		if err != nil {
			return Packed{}, faults.Wrap(faults.ErrMalformedPayload, "list field %d: %v", f.ID, err)
		}
		list := make([]Packed, len(children))
		for i, child := range children {
			p, err := decodeField(child, depth+1)
			if err != nil {
				return Packed{}, err
			}
			list[i] = p
		}
		return Packed{kind: KindList, list: list}, nil
	case tlv.TypeMap:
		m, err := decodeMap(f.Value, depth+1)
		if err != nil {
			return Packed{}, err
		}
		return Packed{kind: KindMap, m: m}, nil
	case tlv.TypeObject:
		v, err := tlv.U64FromBytes(f.Value)
		if err != nil {
			return Packed{}, malformedLength(f)
		}
		return Packed{kind: KindObject, id: ObjectID(v)}, nil
	default:
		return Packed{}, faults.Wrap(faults.ErrMalformedPayload, "field %d: unknown type %d", f.ID, f.Type)
	}
}

func decodeMap(payload []byte, depth int) (PackedMap, error) {
	children, err := tlv.DecodeFields(payload)
	if err != nil {
		return nil, faults.Wrap(faults.ErrMalformedPayload, "map: %v", err)
	}
	if len(children)%2 != 0 {
		return nil, faults.Wrap(faults.ErrMalformedPayload, "map: dangling key")
	}
	out := make(PackedMap, len(children)/2)
	for i := 0; i < len(children); i += 2 {
		key, val := children[i], children[i+1]
		if key.ID != mapKeyField || key.Type != tlv.TypeString || val.ID != mapValField {
			return nil, faults.Wrap(faults.ErrMalformedPayload, "map: bad entry at %d", i/2)
		}
		k := string(key.Value)
		if _, dup := out[k]; dup {
			return nil, faults.Wrap(faults.ErrMalformedPayload, "map: duplicate key %q", k)
		}
		p, err := decodeField(val, depth)
		if err != nil {
			return nil, err
		}
		out[k] = p
	}
	return out, nil
}

func malformedLength(f tlv.Field) error {
	return faults.Wrap(faults.ErrMalformedPayload, "field %d: bad length %d for type %d", f.ID, len(f.Value), f.Type)
}
