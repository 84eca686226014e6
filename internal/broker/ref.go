package broker

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/danmuck/spectre/internal/dispatch"
	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/objects"
	"github.com/danmuck/spectre/internal/variant"
)

// Ref is the head's counted reference to a shared object. The release that
// drops the count to zero deletes the object on every participant, exactly
// once.
type Ref struct {
	owner *Context
	inst  *objects.Instance
	count atomic.Int64
}

func newRef(owner *Context, inst *objects.Instance) *Ref {
	r := &Ref{owner: owner, inst: inst}
	r.count.Store(1)
	return r
}

func (r *Ref) ObjectID() variant.ObjectID { return r.inst.ID }

func (r *Ref) Class() string { return r.inst.Class }

// Handle is the head's own instance.
func (r *Ref) Handle() objects.Handle { return r.inst.Handle }

func (r *Ref) Count() int64 { return r.count.Load() }

func (r *Ref) Released() bool { return r.count.Load() <= 0 }

func (r *Ref) String() string {
	return fmt.Sprintf("%s(%d)", r.inst.Class, r.inst.ID)
}

// Retain adds one holder. A released reference cannot be revived.
func (r *Ref) Retain() error {
	for {
		n := r.count.Load()
		if n <= 0 {
			return ErrReleased
		}
		if r.count.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops one holder; the last one issues the collective delete. If
// that delete never reached the group the reference stays live and
// Release may be called again.
func (r *Ref) Release(ctx context.Context) error {
	for {
		n := r.count.Load()
		if n <= 0 {
			return ErrReleased
		}
		if !r.count.CompareAndSwap(n, n-1) {
			continue
		}
		if n > 1 {
			return nil
		}
		err := r.owner.release(ctx, r.inst.ID)
		if err != nil && !dispatch.IsFatal(err) && r.owner.table.Contains(r.inst.ID) {
			r.count.Store(1)
		}
		return err
	}
}

// Call runs a method on the head's instance only and returns its result.
func (r *Ref) Call(name string, args variant.Map) (variant.Variant, error) {
	if r.Released() {
		return variant.None(), ErrReleased
	}
	r.owner.serveMu.Lock()
	defer r.owner.serveMu.Unlock()
	return r.inst.Handle.CallMethod(name, args)
}

// Parameter reads a parameter from the head's instance.
func (r *Ref) Parameter(name string) (variant.Variant, error) {
	if r.Released() {
		return variant.None(), ErrReleased
	}
	reader, ok := r.inst.Handle.(objects.ParameterReader)
	if !ok {
		return variant.None(), faults.Wrap(faults.ErrUnknownParameter, "%s exposes no parameters", r.inst.Class)
	}
	r.owner.serveMu.Lock()
	defer r.owner.serveMu.Unlock()
	return reader.Parameter(name)
}
