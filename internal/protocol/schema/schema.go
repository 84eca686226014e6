package schema

import (
	"fmt"

	"github.com/danmuck/spectre/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type IDs. The four call types match dispatch tags one to one.
const (
	MsgMakeHandle   uint32 = 1
	MsgSetParameter uint32 = 2
	MsgCallMethod   uint32 = 3
	MsgDeleteHandle uint32 = 4
	MsgAck          uint32 = 5
	MsgAbort        uint32 = 6
	MsgShutdown     uint32 = 7
)

// Field IDs.
const (
	FieldObjectID uint16 = 1
	FieldClass    uint16 = 2
	FieldName     uint16 = 3
	FieldParams   uint16 = 4
	FieldValue    uint16 = 5
	FieldArgs     uint16 = 6

	FieldStatus  uint16 = 100
	FieldCode    uint16 = 101
	FieldMessage uint16 = 102
	FieldRank    uint16 = 103

	FieldReason uint16 = 200
)

// TypeAny accepts any field type; the value decoder checks the payload.
const TypeAny uint8 = 0

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgMakeHandle: {
		{FieldObjectID, tlv.TypeU64},
		{FieldClass, tlv.TypeString},
		{FieldParams, tlv.TypeMap},
	},
	MsgSetParameter: {
		{FieldObjectID, tlv.TypeU64},
		{FieldName, tlv.TypeString},
		{FieldValue, TypeAny},
	},
	MsgCallMethod: {
		{FieldObjectID, tlv.TypeU64},
		{FieldName, tlv.TypeString},
		{FieldArgs, tlv.TypeMap},
	},
	MsgDeleteHandle: {
		{FieldObjectID, tlv.TypeU64},
	},
	MsgAck: {
		{FieldStatus, tlv.TypeString},
		{FieldRank, tlv.TypeU32},
	},
	MsgAbort: {
		{FieldReason, tlv.TypeString},
	},
	MsgShutdown: {
		{FieldReason, tlv.TypeString},
	},
}

// Known reports whether messageType has a schema.
func Known(messageType uint32) bool {
	_, ok := requirements[messageType]
	return ok
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if req.Type != TypeAny && f.Type != req.Type {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	log.Trace().Uint32("message_type", messageType).Int("fields", len(fields)).Msg("schema.Validate ok")
	return nil
}
