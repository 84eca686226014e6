package schema

import (
	"testing"

	"github.com/danmuck/spectre/internal/protocol/tlv"
	"github.com/danmuck/spectre/internal/testutil/testlog"
)

func makeHandleFields() []tlv.Field {
	return []tlv.Field{
		{ID: FieldObjectID, Type: tlv.TypeU64, Value: tlv.PutU64(1)},
		{ID: FieldClass, Type: tlv.TypeString, Value: []byte("Wall")},
		{ID: FieldParams, Type: tlv.TypeMap, Value: nil},
	}
}

func TestValidateMakeHandleRequiredFields(t *testing.T) {
	testlog.Start(t)
	if err := Validate(MsgMakeHandle, makeHandleFields()); err != nil {
		t.Fatalf("validate make_handle: %v", err)
	}
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)
	fields := append(makeHandleFields(), tlv.Field{ID: 9999, Type: tlv.TypeBytes, Value: []byte{0x01}})
	if err := Validate(MsgMakeHandle, fields); err != nil {
		t.Fatalf("validate with unknown field: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{{ID: FieldObjectID, Type: tlv.TypeU64, Value: tlv.PutU64(1)}}
	err := Validate(MsgMakeHandle, fields)
	if err == nil {
		t.Fatalf("expected error")
	}
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldClass || ve.Reason != "missing required field" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		{ID: FieldObjectID, Type: tlv.TypeString, Value: []byte("1")},
	}
	err := Validate(MsgDeleteHandle, fields)
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T (%v)", err, err)
	}
	if ve.FieldID != FieldObjectID || ve.Reason != "type mismatch" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateAnyTypedValue(t *testing.T) {
	testlog.Start(t)
	for _, typ := range []uint8{tlv.TypeF64, tlv.TypeList, tlv.TypeNone, tlv.TypeObject} {
		fields := []tlv.Field{
			{ID: FieldObjectID, Type: tlv.TypeU64, Value: tlv.PutU64(3)},
			{ID: FieldName, Type: tlv.TypeString, Value: []byte("distance")},
			{ID: FieldValue, Type: typ},
		}
		if err := Validate(MsgSetParameter, fields); err != nil {
			t.Fatalf("value type %d rejected: %v", typ, err)
		}
	}
}

func TestValidateUnknownMessageType(t *testing.T) {
	testlog.Start(t)
	if Known(99) {
		t.Fatalf("message type 99 should be unknown")
	}
	if err := Validate(99, nil); err == nil {
		t.Fatalf("expected unknown message type error")
	}
}
