package session

import (
	"errors"
	"testing"

	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/protocol/schema"
	"github.com/danmuck/spectre/internal/protocol/tlv"
	"github.com/danmuck/spectre/internal/testutil/testlog"
	"github.com/danmuck/spectre/internal/variant"
)

func mustPack(t *testing.T, v variant.Variant) variant.Packed {
	t.Helper()
	p, err := variant.Pack(v, nil)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return p
}

func TestMakeHandleRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := MakeHandle{
		ID:     7,
		Class:  "Wall",
		Params: variant.PackedMap{"distance": mustPack(t, variant.Float(1.5))},
	}
	raw, err := EncodeMakeHandle(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeMakeHandle(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != 7 || got.Class != "Wall" || len(got.Params) != 1 {
		t.Fatalf("unexpected make_handle: %+v", got)
	}
	v, err := variant.Unpack(got.Params["distance"], nil)
	if err != nil || !variant.Equal(v, variant.Float(1.5)) {
		t.Fatalf("unexpected distance %v err=%v", v, err)
	}
}

func TestSetParameterRoundTrip(t *testing.T) {
	testlog.Start(t)
	in := SetParameter{ID: 3, Name: "members", Value: mustPack(t, variant.List(variant.Int(1), variant.None()))}
	raw, err := EncodeSetParameter(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeSetParameter(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	v, err := variant.Unpack(got.Value, nil)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if got.ID != 3 || got.Name != "members" || !variant.Equal(v, variant.List(variant.Int(1), variant.None())) {
		t.Fatalf("unexpected set_parameter: %+v value=%s", got, v)
	}
}

func TestCallMethodAndDeleteRoundTrip(t *testing.T) {
	testlog.Start(t)
	raw, err := EncodeCallMethod(CallMethod{ID: 4, Name: "get_distance", Args: variant.PackedMap{}})
	if err != nil {
		t.Fatalf("encode call: %v", err)
	}
	call, err := DecodeCallMethod(raw)
	if err != nil || call.ID != 4 || call.Name != "get_distance" || len(call.Args) != 0 {
		t.Fatalf("unexpected call_method: %+v err=%v", call, err)
	}

	raw, err = EncodeDeleteHandle(DeleteHandle{ID: 4})
	if err != nil {
		t.Fatalf("encode delete: %v", err)
	}
	del, err := DecodeDeleteHandle(raw)
	if err != nil || del.ID != 4 {
		t.Fatalf("unexpected delete_handle: %+v err=%v", del, err)
	}
}

func TestDecodeRejectsMalformedPayload(t *testing.T) {
	testlog.Start(t)
	if _, err := DecodeMakeHandle([]byte{1, 2}); !errors.Is(err, faults.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload for short payload, got %v", err)
	}
	missingClass := tlv.EncodeFields([]tlv.Field{
		{ID: schema.FieldObjectID, Type: tlv.TypeU64, Value: tlv.PutU64(1)},
	})
	if _, err := DecodeMakeHandle(missingClass); !errors.Is(err, faults.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload for missing class, got %v", err)
	}
	badID := tlv.EncodeFields([]tlv.Field{
		{ID: schema.FieldObjectID, Type: tlv.TypeU64, Value: []byte{1}},
	})
	if _, err := DecodeDeleteHandle(badID); !errors.Is(err, faults.ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload for short id, got %v", err)
	}
}

func TestCallFrameCarriesSequenceAndGroup(t *testing.T) {
	testlog.Start(t)
	payload, err := EncodeDeleteHandle(DeleteHandle{ID: 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw, err := EncodeCallFrame(5, schema.MsgDeleteHandle, "grp-1", payload)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if _, err := EncodeCallFrame(5, schema.MsgAck, "grp-1", payload); err == nil {
		t.Fatalf("expected ack type to be rejected as a call")
	}
	fr, err := decodeOne(raw)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if fr.Header.Seq != 5 || fr.Header.Type != schema.MsgDeleteHandle || string(fr.Group) != "grp-1" {
		t.Fatalf("unexpected frame header: %+v auth=%q", fr.Header, fr.Group)
	}
}
