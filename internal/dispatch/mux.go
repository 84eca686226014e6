package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/protocol/schema"
	"github.com/danmuck/spectre/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Tag identifies the handler a call runs. Values match the wire message
// types of the four call messages.
type Tag uint32

const (
	TagMakeHandle   = Tag(schema.MsgMakeHandle)
	TagSetParameter = Tag(schema.MsgSetParameter)
	TagCallMethod   = Tag(schema.MsgCallMethod)
	TagDeleteHandle = Tag(schema.MsgDeleteHandle)
)

func (t Tag) String() string {
	switch t {
	case TagMakeHandle:
		return "make_handle"
	case TagSetParameter:
		return "set_parameter"
	case TagCallMethod:
		return "call_method"
	case TagDeleteHandle:
		return "delete_handle"
	default:
		return fmt.Sprintf("tag(%d)", uint32(t))
	}
}

func (t Tag) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Call is one collective call as a participant sees it.
type Call struct {
	Seq     uint64
	Tag     Tag
	Payload []byte
}

type Handler func(ctx context.Context, call Call) error

var (
	ErrUnknownTag    = fmt.Errorf("%w: unknown dispatch tag", faults.ErrMalformedPayload)
	ErrHandlerExists = errors.New("dispatch: handler already registered")
)

// Mux routes calls to handlers by tag. Registration happens before serving
// starts; the handler map is read-only afterwards.
type Mux struct {
	rank     int
	handlers map[Tag]Handler
	log      *Log
}

func NewMux(rank int, opLog *Log) *Mux {
	return &Mux{rank: rank, handlers: make(map[Tag]Handler), log: opLog}
}

func (m *Mux) Rank() int { return m.rank }

func (m *Mux) Log() *Log { return m.log }

func (m *Mux) Handle(tag Tag, h Handler) error {
	if h == nil {
		return fmt.Errorf("dispatch: nil handler for %s", tag)
	}
	if _, ok := m.handlers[tag]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerExists, tag)
	}
	m.handlers[tag] = h
	return nil
}

// Serve runs the handler for call.Tag and records the outcome in the
// operation log.
func (m *Mux) Serve(ctx context.Context, call Call) error {
	h, ok := m.handlers[call.Tag]
	var err error
	if !ok {
		err = fmt.Errorf("%w: %d", ErrUnknownTag, uint32(call.Tag))
	} else {
		err = h(ctx, call)
	}
	if m.log != nil {
		entry := Entry{Seq: call.Seq, Tag: call.Tag, Code: faults.Code(err)}
		if id, idErr := session.CallObjectID(call.Payload); idErr == nil {
			entry.ID = id
		}
		m.log.Record(entry)
	}
	ev := log.Debug()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Int("rank", m.rank).Uint64("seq", call.Seq).Stringer("tag", call.Tag).Msg("dispatch.serve")
	return err
}
