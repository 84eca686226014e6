package broker

import (
	"context"

	"github.com/danmuck/spectre/internal/dispatch"
	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/observability"
	"github.com/danmuck/spectre/internal/protocol/session"
	"github.com/danmuck/spectre/internal/variant"
)

// Bind registers the lifecycle handlers on mux. Every participant binds the
// same set before serving its first call.
func (c *Context) Bind(mux *dispatch.Mux) error {
	handlers := map[dispatch.Tag]dispatch.Handler{
		dispatch.TagMakeHandle:   c.serveMakeHandle,
		dispatch.TagSetParameter: c.serveSetParameter,
		dispatch.TagCallMethod:   c.serveCallMethod,
		dispatch.TagDeleteHandle: c.serveDeleteHandle,
	}
	for _, tag := range []dispatch.Tag{
		dispatch.TagMakeHandle,
		dispatch.TagSetParameter,
		dispatch.TagCallMethod,
		dispatch.TagDeleteHandle,
	} {
		if err := mux.Handle(tag, handlers[tag]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) serveMakeHandle(_ context.Context, call dispatch.Call) error {
	msg, err := session.DecodeMakeHandle(call.Payload)
	if err != nil {
		return err
	}
	c.serveMu.Lock()
	defer c.serveMu.Unlock()

	if c.table.Contains(msg.ID) {
		return faults.Wrap(faults.ErrDuplicateID, "object %d", msg.ID)
	}
	params, err := variant.UnpackMap(msg.Params, c.table)
	if err != nil {
		return err
	}
	h, err := c.classes.Create(msg.Class, params)
	if err != nil {
		return err
	}
	if _, err := c.table.Insert(msg.ID, msg.Class, h); err != nil {
		return err
	}
	observability.SetLiveObjects(c.rank, c.table.Len())
	c.logger.Debug().Uint64("id", uint64(msg.ID)).Str("class", msg.Class).Uint64("seq", call.Seq).Msg("make_handle")
	return nil
}

func (c *Context) serveSetParameter(_ context.Context, call dispatch.Call) error {
	msg, err := session.DecodeSetParameter(call.Payload)
	if err != nil {
		return err
	}
	c.serveMu.Lock()
	defer c.serveMu.Unlock()

	inst, err := c.table.Get(msg.ID)
	if err != nil {
		return err
	}
	value, err := variant.Unpack(msg.Value, c.table)
	if err != nil {
		return err
	}
	if err := inst.Handle.SetParameter(msg.Name, value); err != nil {
		return err
	}
	c.logger.Debug().Uint64("id", uint64(msg.ID)).Str("name", msg.Name).Uint64("seq", call.Seq).Msg("set_parameter")
	return nil
}

func (c *Context) serveCallMethod(_ context.Context, call dispatch.Call) error {
	msg, err := session.DecodeCallMethod(call.Payload)
	if err != nil {
		return err
	}
	c.serveMu.Lock()
	defer c.serveMu.Unlock()

	inst, err := c.table.Get(msg.ID)
	if err != nil {
		return err
	}
	args, err := variant.UnpackMap(msg.Args, c.table)
	if err != nil {
		return err
	}
	result, err := inst.Handle.CallMethod(msg.Name, args)
	if err != nil {
		return err
	}
	c.logger.Debug().
		Uint64("id", uint64(msg.ID)).
		Str("method", msg.Name).
		Stringer("result", result).
		Uint64("seq", call.Seq).
		Msg("call_method")
	return nil
}

func (c *Context) serveDeleteHandle(_ context.Context, call dispatch.Call) error {
	msg, err := session.DecodeDeleteHandle(call.Payload)
	if err != nil {
		return err
	}
	c.serveMu.Lock()
	defer c.serveMu.Unlock()

	if err := c.table.Remove(msg.ID); err != nil {
		return err
	}
	observability.SetLiveObjects(c.rank, c.table.Len())
	c.logger.Debug().Uint64("id", uint64(msg.ID)).Uint64("seq", call.Seq).Msg("delete_handle")
	return nil
}
