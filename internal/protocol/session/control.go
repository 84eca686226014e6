package session

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Control lines are single JSON objects terminated by '\n'. They are only
// exchanged before the first frame of a session.
const (
	kindRegister    = "participant.register"
	kindRegisterAck = "participant.register.ack"

	maxControlLine = 128 * 1024
)

const (
	AckStatusAccepted = "accepted"
	AckStatusRejected = "rejected"
)

// Registration rejection codes.
const (
	RejectMalformed     uint32 = 1001
	RejectRankTaken     uint32 = 1002
	RejectRankRange     uint32 = 1003
	RejectClassMismatch uint32 = 1004
	RejectGroupMismatch uint32 = 1005
	RejectUnauthorized  uint32 = 1006
)

var (
	ErrInvalidRegistration    = errors.New("session: invalid registration")
	ErrInvalidRegistrationAck = errors.New("session: invalid registration ack")
	ErrControlMessageTooLarge = errors.New("session: control message too large")
)

// Registration is the first line a participant sends. GroupID is empty on
// first contact and set when rejoining a known group.
type Registration struct {
	ParticipantID string   `json:"participant_id"`
	Rank          uint32   `json:"rank"`
	Classes       []string `json:"classes"`
	GroupID       string   `json:"group_id,omitempty"`
	Token         string   `json:"token,omitempty"`
}

func (r Registration) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidRegistration, fmt.Sprintf(format, args...))
	}
	switch {
	case strings.TrimSpace(r.ParticipantID) == "":
		return invalid("missing participant_id")
	case r.Rank == 0:
		return invalid("rank 0 is reserved for the head")
	case r.Classes == nil:
		return invalid("missing classes")
	case !slices.IsSorted(r.Classes):
		return invalid("classes not sorted")
	}
	if i := slices.IndexFunc(r.Classes, func(name string) bool { return strings.TrimSpace(name) == "" }); i >= 0 {
		return invalid("classes[%d] empty", i)
	}
	return nil
}

// RegistrationAck is the head's answer. Size is the full group size, head
// included.
type RegistrationAck struct {
	Status      string `json:"status"`
	Code        uint32 `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	GroupID     string `json:"group_id"`
	Size        uint32 `json:"size"`
	TimestampMS uint64 `json:"timestamp_ms"`
}

func (a RegistrationAck) Validate() error {
	switch {
	case a.Status != AckStatusAccepted && a.Status != AckStatusRejected:
		return fmt.Errorf("%w: status %q", ErrInvalidRegistrationAck, a.Status)
	case strings.TrimSpace(a.GroupID) == "":
		return fmt.Errorf("%w: missing group_id", ErrInvalidRegistrationAck)
	case a.TimestampMS == 0:
		return fmt.Errorf("%w: missing timestamp_ms", ErrInvalidRegistrationAck)
	}
	return nil
}

func (a RegistrationAck) Accepted() bool { return a.Status == AckStatusAccepted }

type validator interface{ Validate() error }

// controlLine wraps one body under its kind so a reader can refuse a line
// meant for the other side.
type controlLine[T any] struct {
	Kind string `json:"type"`
	Body *T     `json:"body,omitempty"`
}

func WriteRegistration(w io.Writer, reg Registration) error {
	return writeControl(w, kindRegister, reg)
}

func ReadRegistration(r *bufio.Reader) (Registration, error) {
	return readControl[Registration](r, kindRegister, ErrInvalidRegistration)
}

func WriteRegistrationAck(w io.Writer, ack RegistrationAck) error {
	return writeControl(w, kindRegisterAck, ack)
}

func ReadRegistrationAck(r *bufio.Reader) (RegistrationAck, error) {
	return readControl[RegistrationAck](r, kindRegisterAck, ErrInvalidRegistrationAck)
}

func writeControl[T validator](w io.Writer, kind string, body T) error {
	if err := body.Validate(); err != nil {
		return err
	}
	line, err := json.Marshal(controlLine[T]{Kind: kind, Body: &body})
	if err != nil {
		return err
	}
	_, err = w.Write(append(line, '\n'))
	return err
}

func readControl[T validator](r *bufio.Reader, kind string, invalid error) (T, error) {
	var zero T
	raw, err := readLine(r)
	if err != nil {
		return zero, err
	}
	var line controlLine[T]
	if err := json.Unmarshal(raw, &line); err != nil {
		return zero, fmt.Errorf("%w: %v", invalid, err)
	}
	if line.Kind != kind || line.Body == nil {
		return zero, fmt.Errorf("%w: unexpected control type %q", invalid, line.Kind)
	}
	if err := (*line.Body).Validate(); err != nil {
		return zero, err
	}
	return *line.Body, nil
}

// readLine reads up to '\n' without buffering more than maxControlLine.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxControlLine {
			return nil, ErrControlMessageTooLarge
		}
		switch {
		case err == nil:
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, err
		}
	}
}
