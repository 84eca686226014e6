package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/spectre/internal/protocol/tlv"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	payload := tlv.EncodeFields([]tlv.Field{{ID: 1, Type: tlv.TypeString, Value: []byte("Wall")}})
	in := Frame{
		Header:  Header{Seq: 42, Type: 1, Flags: FlagIsResponse},
		Group:   []byte("group-1"),
		Payload: payload,
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header.Magic != Magic || out.Header.Type != in.Header.Type || out.Header.Seq != in.Header.Seq {
		t.Fatalf("header mismatch: got=%+v want=%+v", out.Header, in.Header)
	}
	if out.Header.Flags&FlagHasGroup == 0 || !out.Header.IsResponse() || out.Header.IsError() {
		t.Fatalf("unexpected flags: %#x", out.Header.Flags)
	}
	if string(out.Group) != "group-1" {
		t.Fatalf("group mismatch: %q", string(out.Group))
	}
	if !bytes.Equal(out.Payload, payload) {
		t.Fatalf("payload mismatch")
	}
	if buf.Len() != 0 {
		t.Fatalf("reader left %d bytes", buf.Len())
	}
}

func TestWriteFrameClearsStaleGroupFlag(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Header: Header{Seq: 1, Flags: FlagHasGroup}}, DefaultLimits()); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Header.Flags&FlagHasGroup != 0 || len(out.Group) != 0 {
		t.Fatalf("group flag should follow group bytes: %+v", out)
	}
}

func TestReadFrameCleanEOF(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil), DefaultLimits())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF on closed stream, got %v", err)
	}
}

func TestReadFrameTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Header: Header{Seq: 9}, Payload: []byte("payload")}, DefaultLimits()); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw := buf.Bytes()[:buf.Len()-3]
	if _, err := ReadFrame(bytes.NewReader(raw), DefaultLimits()); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}

func TestReadFrameHeaderChecks(t *testing.T) {
	cases := []struct {
		name string
		h    Header
		want error
	}{
		{"foreign magic", Header{Magic: 0xEDCE1001, Version: Version, HeaderLen: FixedHeaderLen}, ErrInvalidMagic},
		{"version", Header{Magic: Magic, Version: 9, HeaderLen: FixedHeaderLen}, ErrUnsupportedVersion},
		{"header too small", Header{Magic: Magic, Version: Version, HeaderLen: 8, Seq: 1, Type: 1}, ErrHeaderLenTooSmall},
		{"group flag without bytes", Header{Magic: Magic, Version: Version, HeaderLen: FixedHeaderLen, Seq: 1, Type: 1, Flags: FlagHasGroup}, ErrGroupFlagMismatch},
		{"payload limit", Header{Magic: Magic, Version: Version, HeaderLen: FixedHeaderLen, PayloadLen: 1 << 40}, ErrPayloadTooLarge},
	}
	for _, tc := range cases {
		_, err := ReadFrame(bytes.NewReader(EncodeHeader(tc.h)), DefaultLimits())
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestWriteFrameEnforcesLimits(t *testing.T) {
	limits := Limits{MaxGroupBytes: 2, MaxPayloadBytes: 4}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Group: []byte("abc")}, limits); !errors.Is(err, ErrGroupTooLarge) {
		t.Fatalf("expected ErrGroupTooLarge, got %v", err)
	}
	if err := WriteFrame(&buf, Frame{Payload: []byte("12345")}, limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("rejected frames must not write")
	}
}
