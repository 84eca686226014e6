package observability

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/spectre/internal/dispatch"
)

// Dispatch results as recorded in spectre_dispatch_calls_total.
const (
	ResultOK         = "ok"
	ResultGroupError = "group_error"
	ResultFatal      = "fatal"
	ResultError      = "error"
)

type instrumented struct {
	next dispatch.Channel
}

// InstrumentChannel records count and latency of every call through ch.
func InstrumentChannel(ch dispatch.Channel) dispatch.Channel {
	RegisterMetrics()
	return &instrumented{next: ch}
}

func (c *instrumented) Size() int { return c.next.Size() }

func (c *instrumented) Dispatch(ctx context.Context, tag dispatch.Tag, payload []byte) error {
	start := time.Now()
	err := c.next.Dispatch(ctx, tag, payload)
	RecordDispatch(tag.String(), DispatchResult(err), time.Since(start))
	return err
}

func DispatchResult(err error) string {
	var ge *dispatch.GroupError
	switch {
	case err == nil:
		return ResultOK
	case dispatch.IsFatal(err):
		return ResultFatal
	case errors.As(err, &ge):
		return ResultGroupError
	default:
		return ResultError
	}
}
