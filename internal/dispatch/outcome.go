package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/spectre/internal/faults"
)

// ErrDivergence marks a fatal group failure: participants disagreed on the
// outcome of a call, or a call failed in a way that implies their tables no
// longer match.
var ErrDivergence = errors.New("dispatch: group diverged")

var ErrClosed = errors.New("dispatch: channel closed")

// Outcome is one participant's verdict for one call.
type Outcome struct {
	Rank    int    `json:"rank"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func OutcomeOf(rank int, err error) Outcome {
	if err == nil {
		return Outcome{Rank: rank}
	}
	return Outcome{Rank: rank, Code: faults.Code(err), Message: err.Error()}
}

func (o Outcome) OK() bool { return o.Code == faults.CodeOK }

// GroupError is a failure every participant reported identically. The group
// is still consistent and the caller may carry on.
type GroupError struct {
	Seq     uint64
	Tag     Tag
	Code    string
	Message string
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("%s seq=%d failed on every participant: %s", e.Tag, e.Seq, e.Message)
}

func (e *GroupError) Unwrap() error { return faults.Sentinel(e.Code) }

// FatalError carries the outcomes behind an ErrDivergence.
type FatalError struct {
	Seq      uint64
	Tag      Tag
	Reason   string
	Outcomes []Outcome
}

func (e *FatalError) Error() string {
	parts := make([]string, 0, len(e.Outcomes))
	for _, o := range e.Outcomes {
		code := o.Code
		if code == faults.CodeOK {
			code = "ok"
		}
		parts = append(parts, fmt.Sprintf("%d:%s", o.Rank, code))
	}
	return fmt.Sprintf("%s seq=%d: %s [%s]", e.Tag, e.Seq, e.Reason, strings.Join(parts, " "))
}

func (e *FatalError) Unwrap() error { return ErrDivergence }

// Reconcile folds per-participant outcomes into one result: nil when every
// participant succeeded, a *GroupError when all failed with the same code,
// and a *FatalError otherwise.
func Reconcile(seq uint64, tag Tag, outcomes []Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	sorted := append([]Outcome(nil), outcomes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })

	for _, o := range sorted {
		if faults.Fatal(o.Code) {
			return &FatalError{Seq: seq, Tag: tag, Reason: o.Code + " on rank " + fmt.Sprint(o.Rank), Outcomes: sorted}
		}
	}
	first := sorted[0]
	for _, o := range sorted[1:] {
		if o.Code != first.Code {
			return &FatalError{Seq: seq, Tag: tag, Reason: "outcomes differ", Outcomes: sorted}
		}
	}
	if first.OK() {
		return nil
	}
	return &GroupError{Seq: seq, Tag: tag, Code: first.Code, Message: first.Message}
}

// IsFatal reports whether err means the group can no longer be trusted.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDivergence)
}
