package session

import (
	"bytes"
	"fmt"
	"io"

	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/protocol/frame"
	"github.com/danmuck/spectre/internal/protocol/schema"
	"github.com/danmuck/spectre/internal/protocol/tlv"
)

const (
	ackStatusOK    = "ok"
	ackStatusError = "error"
)

// Ack is the completion report a participant returns for each call.
type Ack struct {
	Rank    uint32
	Code    string
	Message string
}

func (a Ack) OK() bool { return a.Code == faults.CodeOK }

// EncodeCallFrame wraps a call payload stamped with the dispatch sequence
// number and the group id.
func EncodeCallFrame(seq uint64, messageType uint32, groupID string, payload []byte) ([]byte, error) {
	switch messageType {
	case schema.MsgMakeHandle, schema.MsgSetParameter, schema.MsgCallMethod, schema.MsgDeleteHandle:
	default:
		return nil, fmt.Errorf("session: message type %d is not a call", messageType)
	}
	return writeFrame(frame.Frame{
		Header:  frame.Header{Seq: seq, Type: messageType},
		Group:   []byte(groupID),
		Payload: payload,
	})
}

func EncodeAckFrame(seq uint64, ack Ack) ([]byte, error) {
	status := ackStatusOK
	flags := frame.FlagIsResponse
	if !ack.OK() {
		status = ackStatusError
		flags |= frame.FlagIsError
	}
	fields := []tlv.Field{
		{ID: schema.FieldStatus, Type: tlv.TypeString, Value: []byte(status)},
		{ID: schema.FieldRank, Type: tlv.TypeU32, Value: tlv.PutU32(ack.Rank)},
	}
	if !ack.OK() {
		fields = append(fields,
			tlv.Field{ID: schema.FieldCode, Type: tlv.TypeString, Value: []byte(ack.Code)},
			tlv.Field{ID: schema.FieldMessage, Type: tlv.TypeString, Value: []byte(ack.Message)},
		)
	}
	if err := schema.Validate(schema.MsgAck, fields); err != nil {
		return nil, err
	}
	return writeFrame(frame.Frame{
		Header:  frame.Header{Seq: seq, Type: schema.MsgAck, Flags: flags},
		Payload: tlv.EncodeFields(fields),
	})
}

func DecodeAckFrame(f frame.Frame) (Ack, error) {
	if f.Header.Type != schema.MsgAck {
		return Ack{}, fmt.Errorf("session: expected ack, got message type %d", f.Header.Type)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return Ack{}, err
	}
	if err := schema.Validate(schema.MsgAck, fields); err != nil {
		return Ack{}, err
	}
	rankField, _ := tlv.GetField(fields, schema.FieldRank)
	rank, err := tlv.U32FromBytes(rankField.Value)
	if err != nil {
		return Ack{}, err
	}
	ack := Ack{Rank: rank}
	switch status := stringField(fields, schema.FieldStatus); status {
	case ackStatusOK:
	case ackStatusError:
		ack.Code = stringField(fields, schema.FieldCode)
		ack.Message = stringField(fields, schema.FieldMessage)
		if ack.Code == faults.CodeOK {
			ack.Code = faults.CodeHandlerFailed
		}
	default:
		return Ack{}, fmt.Errorf("session: invalid ack status %q", status)
	}
	return ack, nil
}

// EncodeControlFrame builds an abort or shutdown frame.
func EncodeControlFrame(seq uint64, messageType uint32, groupID, reason string) ([]byte, error) {
	if messageType != schema.MsgAbort && messageType != schema.MsgShutdown {
		return nil, fmt.Errorf("session: message type %d is not a control frame", messageType)
	}
	fields := []tlv.Field{{ID: schema.FieldReason, Type: tlv.TypeString, Value: []byte(reason)}}
	return writeFrame(frame.Frame{
		Header:  frame.Header{Seq: seq, Type: messageType},
		Group:   []byte(groupID),
		Payload: tlv.EncodeFields(fields),
	})
}

func DecodeControlFrame(f frame.Frame) (string, error) {
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return "", err
	}
	if err := schema.Validate(f.Header.Type, fields); err != nil {
		return "", err
	}
	return stringField(fields, schema.FieldReason), nil
}

// ReadFrame reads one framed message from the stream.
func ReadFrame(r io.Reader, limits frame.Limits) (frame.Frame, error) {
	return frame.ReadFrame(r, limits)
}

func writeFrame(f frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.WriteFrame(&buf, f, frame.DefaultLimits()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
