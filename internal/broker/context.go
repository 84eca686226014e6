package broker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/danmuck/spectre/internal/dispatch"
	"github.com/danmuck/spectre/internal/factory"
	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/objects"
	"github.com/danmuck/spectre/internal/protocol/session"
	"github.com/danmuck/spectre/internal/variant"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotHead   = errors.New("broker: operation requires the head")
	ErrNoChannel = errors.New("broker: no dispatch channel attached")
	ErrReleased  = errors.New("broker: reference already released")

	ErrStillReferenced = errors.New("broker: object still referenced by another object")
)

// AbortFunc is invoked once when the group can no longer be trusted.
type AbortFunc func(err error)

type Option func(*Context)

// WithAbort replaces the default abort hook, which logs at fatal level and
// exits the process.
func WithAbort(fn AbortFunc) Option {
	return func(c *Context) { c.abort = fn }
}

// Context is one participant's broker state.
type Context struct {
	rank    int
	classes *factory.Registry
	table   *objects.Table
	logger  zerolog.Logger

	// serveMu serializes access to handle state: collective handlers,
	// head-local calls and snapshots.
	serveMu sync.Mutex

	// opMu keeps id allocation and dispatch in the same order.
	opMu    sync.Mutex
	channel dispatch.Channel
	lastID  variant.ObjectID

	// Head-side lifetime of objects referenced from other objects, guarded
	// by opMu. embeds lists what each referrer has been handed; holds
	// counts referrers per target; orphans are targets whose Ref was
	// released while still held.
	embeds  map[variant.ObjectID][]variant.ObjectID
	holds   map[variant.ObjectID]int
	orphans map[variant.ObjectID]bool

	abort     AbortFunc
	abortOnce sync.Once
}

// New builds the context for rank. The registry must already hold every
// class; it is not modified afterwards.
func New(rank int, classes *factory.Registry, opts ...Option) *Context {
	c := &Context{
		rank:    rank,
		classes: classes,
		table:   objects.NewTable(),
		logger:  log.With().Int("rank", rank).Logger(),
		embeds:  make(map[variant.ObjectID][]variant.ObjectID),
		holds:   make(map[variant.ObjectID]int),
		orphans: make(map[variant.ObjectID]bool),
	}
	c.abort = func(err error) {
		c.logger.Fatal().Err(err).Msg("group diverged; aborting")
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Context) Rank() int { return c.rank }

func (c *Context) IsHead() bool { return c.rank == 0 }

func (c *Context) Table() *objects.Table { return c.table }

func (c *Context) Classes() *factory.Registry { return c.classes }

// Attach sets the channel the head dispatches on.
func (c *Context) Attach(ch dispatch.Channel) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.channel = ch
}

// LastID is the most recently allocated ObjectID, zero before the first.
func (c *Context) LastID() variant.ObjectID {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.lastID
}

// Snapshot lists this participant's live objects.
func (c *Context) Snapshot() []objects.Entry {
	c.serveMu.Lock()
	defer c.serveMu.Unlock()
	return c.table.Snapshot()
}

// MakeShared creates an object of class on every participant and returns
// the head's reference to it.
func (c *Context) MakeShared(ctx context.Context, class string, params variant.Map) (*Ref, error) {
	if err := c.headReady(); err != nil {
		return nil, err
	}
	if !c.classes.Has(class) {
		return nil, faults.Wrap(faults.ErrClassNotFound, "%q", class)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	packed, err := variant.PackMap(params, c.table)
	if err != nil {
		return nil, err
	}
	c.lastID++
	id := c.lastID
	payload, err := session.EncodeMakeHandle(session.MakeHandle{ID: id, Class: class, Params: packed})
	if err != nil {
		return nil, err
	}
	if err := c.dispatch(ctx, dispatch.TagMakeHandle, payload); err != nil {
		return nil, err
	}
	inst, err := c.table.Get(id)
	if err != nil {
		return nil, c.fail(err)
	}
	c.embed(id, mapRefs(packed))
	c.logger.Info().Uint64("id", uint64(id)).Str("class", class).Msg("object created")
	return newRef(c, inst), nil
}

// NotifySetParameter sets a parameter of obj on every participant.
func (c *Context) NotifySetParameter(ctx context.Context, obj variant.Object, name string, value variant.Variant) error {
	if err := c.headReady(); err != nil {
		return err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	id, err := c.liveID(obj)
	if err != nil {
		return err
	}
	packed, err := variant.Pack(value, c.table)
	if err != nil {
		return err
	}
	payload, err := session.EncodeSetParameter(session.SetParameter{ID: id, Name: name, Value: packed})
	if err != nil {
		return err
	}
	err = c.dispatch(ctx, dispatch.TagSetParameter, payload)
	if delivered(err) {
		c.embed(id, packed.Refs(nil))
	}
	return err
}

// NotifyCallMethod runs a method of obj on every participant. Per-participant
// results stay local.
func (c *Context) NotifyCallMethod(ctx context.Context, obj variant.Object, name string, args variant.Map) error {
	if err := c.headReady(); err != nil {
		return err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	id, err := c.liveID(obj)
	if err != nil {
		return err
	}
	packed, err := variant.PackMap(args, c.table)
	if err != nil {
		return err
	}
	payload, err := session.EncodeCallMethod(session.CallMethod{ID: id, Name: name, Args: packed})
	if err != nil {
		return err
	}
	err = c.dispatch(ctx, dispatch.TagCallMethod, payload)
	if delivered(err) {
		c.embed(id, mapRefs(packed))
	}
	return err
}

// NotifyDeleteHandle destroys obj on every participant. Objects still
// referenced by another live object are refused with ErrStillReferenced.
// Ref.Release is the usual way in.
func (c *Context) NotifyDeleteHandle(ctx context.Context, obj variant.Object) error {
	if err := c.headReady(); err != nil {
		return err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	id, err := c.liveID(obj)
	if err != nil {
		return err
	}
	if n := c.holds[id]; n > 0 {
		return fmt.Errorf("%w: object %d has %d referrers", ErrStillReferenced, id, n)
	}
	return c.deleteLocked(ctx, id)
}

// release runs when the last Ref to id goes away. A target still held by
// a referrer is kept alive and deleted together with its last referrer.
func (c *Context) release(ctx context.Context, id variant.ObjectID) error {
	if err := c.headReady(); err != nil {
		return err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if !c.table.Contains(id) {
		return faults.Wrap(faults.ErrUnknownID, "object %d", id)
	}
	if n := c.holds[id]; n > 0 {
		c.orphans[id] = true
		c.logger.Debug().Uint64("id", uint64(id)).Int("referrers", n).Msg("object released; kept alive by referrers")
		return nil
	}
	return c.deleteLocked(ctx, id)
}

// deleteLocked dispatches delete_handle for id, then deletes every
// released target that id was the last referrer of. Callers hold opMu.
func (c *Context) deleteLocked(ctx context.Context, id variant.ObjectID) error {
	payload, err := session.EncodeDeleteHandle(session.DeleteHandle{ID: id})
	if err != nil {
		return err
	}
	if err := c.dispatch(ctx, dispatch.TagDeleteHandle, payload); err != nil {
		return err
	}
	c.logger.Info().Uint64("id", uint64(id)).Msg("object deleted")

	targets := c.embeds[id]
	delete(c.embeds, id)
	delete(c.orphans, id)
	var errs []error
	for _, t := range targets {
		c.holds[t]--
		if c.holds[t] > 0 {
			continue
		}
		delete(c.holds, t)
		if c.orphans[t] {
			// The referrer is already gone; finish the cascade even if the
			// caller gives up.
			errs = append(errs, c.deleteLocked(context.WithoutCancel(ctx), t))
		}
	}
	return errors.Join(errs...)
}

// embed records that referrer now holds targets. Callers hold opMu.
func (c *Context) embed(referrer variant.ObjectID, targets []variant.ObjectID) {
	have := c.embeds[referrer]
	for _, t := range targets {
		if t == referrer || slices.Contains(have, t) {
			continue
		}
		have = append(have, t)
		c.holds[t]++
	}
	if len(have) > 0 {
		c.embeds[referrer] = have
	}
}

// Referrers counts the live objects holding a reference to id.
func (c *Context) Referrers(id variant.ObjectID) int {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.holds[id]
}

func mapRefs(m variant.PackedMap) []variant.ObjectID {
	var out []variant.ObjectID
	for _, p := range m {
		out = p.Refs(out)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// delivered reports whether a call reached every participant's handler.
func delivered(err error) bool {
	var ge *dispatch.GroupError
	return err == nil || errors.As(err, &ge)
}

func (c *Context) headReady() error {
	if !c.IsHead() {
		return ErrNotHead
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.channel == nil {
		return ErrNoChannel
	}
	return nil
}

func (c *Context) liveID(obj variant.Object) (variant.ObjectID, error) {
	if obj == nil {
		return 0, faults.Wrap(faults.ErrUnknownID, "nil object")
	}
	id := obj.ObjectID()
	if !c.table.Contains(id) {
		return 0, faults.Wrap(faults.ErrUnknownID, "object %d", id)
	}
	if r, ok := obj.(*Ref); ok && r.Released() {
		return 0, ErrReleased
	}
	return id, nil
}

func (c *Context) dispatch(ctx context.Context, tag dispatch.Tag, payload []byte) error {
	err := c.channel.Dispatch(ctx, tag, payload)
	if dispatch.IsFatal(err) {
		return c.fail(err)
	}
	if err != nil {
		c.logger.Warn().Stringer("tag", tag).Err(err).Msg("collective call failed on every participant")
	}
	return err
}

// fail runs the abort hook once and returns err for callers whose hook
// does not exit.
func (c *Context) fail(err error) error {
	c.abortOnce.Do(func() {
		c.logger.Error().Err(err).Msg("fatal group failure")
		c.abort(err)
	})
	return err
}
