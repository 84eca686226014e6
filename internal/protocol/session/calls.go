package session

import (
	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/protocol/schema"
	"github.com/danmuck/spectre/internal/protocol/tlv"
	"github.com/danmuck/spectre/internal/variant"
)

// MakeHandle asks every participant to construct object ID of Class.
type MakeHandle struct {
	ID     variant.ObjectID
	Class  string
	Params variant.PackedMap
}

type SetParameter struct {
	ID    variant.ObjectID
	Name  string
	Value variant.Packed
}

type CallMethod struct {
	ID   variant.ObjectID
	Name string
	Args variant.PackedMap
}

type DeleteHandle struct {
	ID variant.ObjectID
}

func EncodeMakeHandle(m MakeHandle) ([]byte, error) {
	return encodeCall(schema.MsgMakeHandle, []tlv.Field{
		idField(m.ID),
		{ID: schema.FieldClass, Type: tlv.TypeString, Value: []byte(m.Class)},
		variant.EncodeMapField(schema.FieldParams, m.Params),
	})
}

func DecodeMakeHandle(payload []byte) (MakeHandle, error) {
	fields, err := decodeCall(schema.MsgMakeHandle, payload)
	if err != nil {
		return MakeHandle{}, err
	}
	id, err := objectID(fields)
	if err != nil {
		return MakeHandle{}, err
	}
	params, err := mapField(fields, schema.FieldParams)
	if err != nil {
		return MakeHandle{}, err
	}
	return MakeHandle{ID: id, Class: stringField(fields, schema.FieldClass), Params: params}, nil
}

func EncodeSetParameter(m SetParameter) ([]byte, error) {
	return encodeCall(schema.MsgSetParameter, []tlv.Field{
		idField(m.ID),
		{ID: schema.FieldName, Type: tlv.TypeString, Value: []byte(m.Name)},
		variant.EncodeField(schema.FieldValue, m.Value),
	})
}

func DecodeSetParameter(payload []byte) (SetParameter, error) {
	fields, err := decodeCall(schema.MsgSetParameter, payload)
	if err != nil {
		return SetParameter{}, err
	}
	id, err := objectID(fields)
	if err != nil {
		return SetParameter{}, err
	}
	f, _ := tlv.GetField(fields, schema.FieldValue)
	value, err := variant.DecodeField(f)
	if err != nil {
		return SetParameter{}, err
	}
	return SetParameter{ID: id, Name: stringField(fields, schema.FieldName), Value: value}, nil
}

func EncodeCallMethod(m CallMethod) ([]byte, error) {
	return encodeCall(schema.MsgCallMethod, []tlv.Field{
		idField(m.ID),
		{ID: schema.FieldName, Type: tlv.TypeString, Value: []byte(m.Name)},
		variant.EncodeMapField(schema.FieldArgs, m.Args),
	})
}

func DecodeCallMethod(payload []byte) (CallMethod, error) {
	fields, err := decodeCall(schema.MsgCallMethod, payload)
	if err != nil {
		return CallMethod{}, err
	}
	id, err := objectID(fields)
	if err != nil {
		return CallMethod{}, err
	}
	args, err := mapField(fields, schema.FieldArgs)
	if err != nil {
		return CallMethod{}, err
	}
	return CallMethod{ID: id, Name: stringField(fields, schema.FieldName), Args: args}, nil
}

func EncodeDeleteHandle(m DeleteHandle) ([]byte, error) {
	return encodeCall(schema.MsgDeleteHandle, []tlv.Field{idField(m.ID)})
}

func DecodeDeleteHandle(payload []byte) (DeleteHandle, error) {
	fields, err := decodeCall(schema.MsgDeleteHandle, payload)
	if err != nil {
		return DeleteHandle{}, err
	}
	id, err := objectID(fields)
	if err != nil {
		return DeleteHandle{}, err
	}
	return DeleteHandle{ID: id}, nil
}

func encodeCall(messageType uint32, fields []tlv.Field) ([]byte, error) {
	if err := schema.Validate(messageType, fields); err != nil {
		return nil, err
	}
	return tlv.EncodeFields(fields), nil
}

func decodeCall(messageType uint32, payload []byte) ([]tlv.Field, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return nil, faults.Wrap(faults.ErrMalformedPayload, "%v", err)
	}
	if err := schema.Validate(messageType, fields); err != nil {
		return nil, faults.Wrap(faults.ErrMalformedPayload, "%v", err)
	}
	return fields, nil
}

// CallObjectID reads the target object id of any call payload without
// decoding the rest.
func CallObjectID(payload []byte) (variant.ObjectID, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return 0, faults.Wrap(faults.ErrMalformedPayload, "%v", err)
	}
	if _, ok := tlv.GetField(fields, schema.FieldObjectID); !ok {
		return 0, faults.Wrap(faults.ErrMalformedPayload, "missing object id")
	}
	return objectID(fields)
}

func idField(id variant.ObjectID) tlv.Field {
	return tlv.Field{ID: schema.FieldObjectID, Type: tlv.TypeU64, Value: tlv.PutU64(uint64(id))}
}

func objectID(fields []tlv.Field) (variant.ObjectID, error) {
	f, _ := tlv.GetField(fields, schema.FieldObjectID)
	v, err := tlv.U64FromBytes(f.Value)
	if err != nil {
		return 0, faults.Wrap(faults.ErrMalformedPayload, "object id: %v", err)
	}
	return variant.ObjectID(v), nil
}

func mapField(fields []tlv.Field, id uint16) (variant.PackedMap, error) {
	f, _ := tlv.GetField(fields, id)
	return variant.DecodeMapField(f)
}

func stringField(fields []tlv.Field, id uint16) string {
	f, _ := tlv.GetField(fields, id)
	return string(f.Value)
}
