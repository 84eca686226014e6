// Package tlv encodes payload fields as id(2) type(1) length(4) value.
// Lists and maps nest further TLV fields inside their value bytes.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const HeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
	ErrInvalidLength    = errors.New("tlv: invalid value length")
)

// Field type ids.
const (
	TypeU8     uint8 = 1
	TypeU16    uint8 = 2
	TypeU32    uint8 = 3
	TypeU64    uint8 = 4
	TypeBool   uint8 = 5
	TypeString uint8 = 6
	TypeBytes  uint8 = 7
	TypeNone   uint8 = 8
	TypeI64    uint8 = 9
	TypeF64    uint8 = 10
	TypeF64s   uint8 = 11
	TypeList   uint8 = 12
	TypeMap    uint8 = 13
	TypeObject uint8 = 14
)

type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func appendField(b []byte, f Field) []byte {
	b = binary.BigEndian.AppendUint16(b, f.ID)
	b = append(b, f.Type)
	b = binary.BigEndian.AppendUint32(b, uint32(len(f.Value)))
	return append(b, f.Value...)
}

func EncodeField(f Field) []byte {
	return appendField(make([]byte, 0, HeaderLen+len(f.Value)), f)
}

func EncodeFields(fields []Field) []byte {
	size := 0
	for _, f := range fields {
		size += HeaderLen + len(f.Value)
	}
	out := make([]byte, 0, size)
	for _, f := range fields {
		out = appendField(out, f)
	}
	return out
}

// DecodeFields splits payload into fields in wire order. Values are copied
// so callers may keep them after the payload buffer is reused.
func DecodeFields(payload []byte) ([]Field, error) {
	fields := make([]Field, 0, 4)
	for rest := payload; len(rest) > 0; {
		if len(rest) < HeaderLen {
			return nil, ErrShortFieldHeader
		}
		n := binary.BigEndian.Uint32(rest[3:HeaderLen])
		if uint64(len(rest)-HeaderLen) < uint64(n) {
			return nil, fmt.Errorf("%w: field %d wants %d bytes, %d left",
				ErrShortFieldValue, binary.BigEndian.Uint16(rest), n, len(rest)-HeaderLen)
		}
		end := HeaderLen + int(n)
		fields = append(fields, Field{
			ID:    binary.BigEndian.Uint16(rest),
			Type:  rest[2],
			Value: append([]byte(nil), rest[HeaderLen:end]...),
		})
		rest = rest[end:]
	}
	return fields, nil
}

// GetField returns the first field with id.
func GetField(fields []Field, id uint16) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

func PutU32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }

func PutU64(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v) }

func U32FromBytes(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("%w: u32 of %d bytes", ErrInvalidLength, len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

func U64FromBytes(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: u64 of %d bytes", ErrInvalidLength, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// PutF64s encodes floats as consecutive IEEE-754 bit patterns.
func PutF64s(v []float64) []byte {
	out := make([]byte, 0, 8*len(v))
	for _, f := range v {
		out = binary.BigEndian.AppendUint64(out, math.Float64bits(f))
	}
	return out
}

func F64sFromBytes(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("%w: f64 slice of %d bytes", ErrInvalidLength, len(b))
	}
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.BigEndian.Uint64(b[i*8:]))
	}
	return out, nil
}
