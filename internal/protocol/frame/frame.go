// Package frame is the length-prefixed envelope every session message
// travels in: a fixed 32-byte header, the group id, then a TLV payload.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Magic   uint32 = 0x53504354 // "SPCT"
	Version uint16 = 1

	FixedHeaderLen uint16 = 32

	FlagHasGroup   uint32 = 0x01
	FlagIsResponse uint32 = 0x02
	FlagIsError    uint32 = 0x04
)

var (
	ErrShortHeader        = errors.New("frame: short fixed header")
	ErrInvalidMagic       = errors.New("frame: invalid magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrHeaderLenTooSmall  = errors.New("frame: header_len smaller than fixed header")
	ErrGroupFlagMismatch  = errors.New("frame: group flag set without group bytes")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
	ErrGroupTooLarge      = errors.New("frame: group id too large")
)

// Header is the fixed wire header. Seq is the dispatch sequence number the
// frame belongs to; Type is the schema message type.
type Header struct {
	Magic      uint32
	Version    uint16
	HeaderLen  uint16
	Seq        uint64
	Type       uint32
	Flags      uint32
	PayloadLen uint64
}

func (h Header) IsResponse() bool { return h.Flags&FlagIsResponse != 0 }

func (h Header) IsError() bool { return h.Flags&FlagIsError != 0 }

// Frame is one complete wire message. Group carries the id of the run the
// sender belongs to so a participant can refuse frames from another one.
type Frame struct {
	Header  Header
	Group   []byte
	Payload []byte
}

// Limits bounds the memory a single frame may claim.
type Limits struct {
	MaxGroupBytes   uint64
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxGroupBytes:   256,
		MaxPayloadBytes: 64 << 20,
	}
}

// ReadFrame reads exactly one frame. A stream that ends before the first
// header byte returns io.EOF.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}
	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if err := h.check(limits); err != nil {
		return Frame{}, err
	}

	body := make([]byte, uint64(h.HeaderLen-FixedHeaderLen)+h.PayloadLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("frame: read body of seq %d: %w", h.Seq, err)
	}
	split := h.HeaderLen - FixedHeaderLen
	return Frame{Header: h, Group: body[:split:split], Payload: body[split:]}, nil
}

func (h Header) check(limits Limits) error {
	switch {
	case h.Magic != Magic:
		return ErrInvalidMagic
	case h.Version != Version:
		return ErrUnsupportedVersion
	case h.HeaderLen < FixedHeaderLen:
		return ErrHeaderLenTooSmall
	}
	groupLen := uint64(h.HeaderLen - FixedHeaderLen)
	switch {
	case h.Flags&FlagHasGroup != 0 && groupLen == 0:
		return ErrGroupFlagMismatch
	case groupLen > limits.MaxGroupBytes:
		return ErrGroupTooLarge
	case h.PayloadLen > limits.MaxPayloadBytes:
		return ErrPayloadTooLarge
	}
	return nil
}

// WriteFrame stamps magic, version, lengths and the group flag, then writes
// f in a single Write call.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Group)) > limits.MaxGroupBytes {
		return ErrGroupTooLarge
	}
	if uint64(len(f.Payload)) > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = FixedHeaderLen + uint16(len(f.Group))
	h.PayloadLen = uint64(len(f.Payload))
	h.Flags &^= FlagHasGroup
	if len(f.Group) > 0 {
		h.Flags |= FlagHasGroup
	}

	buf := make([]byte, 0, int(h.HeaderLen)+len(f.Payload))
	buf = appendHeader(buf, h)
	buf = append(buf, f.Group...)
	buf = append(buf, f.Payload...)
	_, err := w.Write(buf)
	return err
}

func EncodeHeader(h Header) []byte {
	return appendHeader(make([]byte, 0, FixedHeaderLen), h)
}

func appendHeader(b []byte, h Header) []byte {
	b = binary.BigEndian.AppendUint32(b, h.Magic)
	b = binary.BigEndian.AppendUint16(b, h.Version)
	b = binary.BigEndian.AppendUint16(b, h.HeaderLen)
	b = binary.BigEndian.AppendUint64(b, h.Seq)
	b = binary.BigEndian.AppendUint32(b, h.Type)
	b = binary.BigEndian.AppendUint32(b, h.Flags)
	return binary.BigEndian.AppendUint64(b, h.PayloadLen)
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	be := binary.BigEndian
	return Header{
		Magic:      be.Uint32(b[0:]),
		Version:    be.Uint16(b[4:]),
		HeaderLen:  be.Uint16(b[6:]),
		Seq:        be.Uint64(b[8:]),
		Type:       be.Uint32(b[16:]),
		Flags:      be.Uint32(b[20:]),
		PayloadLen: be.Uint64(b[24:]),
	}, nil
}
