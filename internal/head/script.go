package head

import (
	"context"
	"fmt"
	"sort"

	"github.com/danmuck/spectre/internal/broker"
	"github.com/danmuck/spectre/internal/config"
	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/variant"
	"github.com/rs/zerolog/log"
)

// StepResult records what one script step did.
type StepResult struct {
	Index  int              `json:"index"`
	Op     string           `json:"op"`
	Target string           `json:"target,omitempty"`
	ID     variant.ObjectID `json:"id,omitempty"`
}

// Runner executes scripts against a head context and keeps name bindings
// across runs.
type Runner struct {
	ctx  *broker.Context
	refs map[string]*broker.Ref
}

func NewRunner(b *broker.Context) *Runner {
	return &Runner{ctx: b, refs: make(map[string]*broker.Ref)}
}

// Ref returns the reference bound to name.
func (r *Runner) Ref(name string) (*broker.Ref, bool) {
	ref, ok := r.refs[name]
	return ref, ok
}

// Bound lists the names currently bound, sorted.
func (r *Runner) Bound() []string {
	out := make([]string, 0, len(r.refs))
	for name := range r.refs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Run executes every step in order and stops at the first failure.
func (r *Runner) Run(ctx context.Context, s config.Script) ([]StepResult, error) {
	results := make([]StepResult, 0, len(s.Steps))
	for i, step := range s.Steps {
		res, err := r.step(ctx, step)
		res.Index = i + 1
		res.Op = step.Op
		if err != nil {
			return results, fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
		results = append(results, res)
		log.Debug().Int("step", res.Index).Str("op", res.Op).Str("target", res.Target).Uint64("id", uint64(res.ID)).Msg("head.script step done")
	}
	return results, nil
}

func (r *Runner) step(ctx context.Context, step config.Step) (StepResult, error) {
	if step.Op == config.OpMake {
		params, err := r.toMap(step.Params)
		if err != nil {
			return StepResult{}, err
		}
		ref, err := r.ctx.MakeShared(ctx, step.Class, params)
		if err != nil {
			return StepResult{}, err
		}
		if step.Name != "" {
			r.refs[step.Name] = ref
		}
		return StepResult{Target: step.Name, ID: ref.ObjectID()}, nil
	}

	ref, ok := r.refs[step.Target]
	if !ok {
		return StepResult{}, faults.Wrap(faults.ErrUnknownReference, "%q is not bound", step.Target)
	}
	res := StepResult{Target: step.Target, ID: ref.ObjectID()}
	switch step.Op {
	case config.OpSet:
		value, err := r.toVariant(step.Value)
		if err != nil {
			return res, err
		}
		return res, r.ctx.NotifySetParameter(ctx, ref, step.Param, value)
	case config.OpCall:
		args, err := r.toMap(step.Args)
		if err != nil {
			return res, err
		}
		return res, r.ctx.NotifyCallMethod(ctx, ref, step.Method, args)
	case config.OpRelease:
		delete(r.refs, step.Target)
		return res, ref.Release(ctx)
	default:
		return res, fmt.Errorf("unknown op %q", step.Op)
	}
}

func (r *Runner) toMap(in map[string]any) (variant.Map, error) {
	out := make(variant.Map, len(in))
	for k, v := range in {
		conv, err := r.toVariant(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = conv
	}
	return out, nil
}

// toVariant converts a decoded TOML value. Arrays of plain floats become
// number sequences; "@name" strings become object references.
func (r *Runner) toVariant(v any) (variant.Variant, error) {
	switch x := v.(type) {
	case nil:
		return variant.None(), nil
	case bool:
		return variant.Bool(x), nil
	case int64:
		return variant.Int(x), nil
	case float64:
		return variant.Float(x), nil
	case string:
		if name, ok := config.Reference(x); ok {
			ref, bound := r.refs[name]
			if !bound {
				return variant.None(), faults.Wrap(faults.ErrUnknownReference, "@%s is not bound", name)
			}
			return variant.Ref(ref), nil
		}
		return variant.String(x), nil
	case []any:
		if fs, ok := allFloats(x); ok {
			return variant.Floats(fs...), nil
		}
		items := make([]variant.Variant, len(x))
		for i, el := range x {
			conv, err := r.toVariant(el)
			if err != nil {
				return variant.None(), fmt.Errorf("[%d]: %w", i, err)
			}
			items[i] = conv
		}
		return variant.List(items...), nil
	case map[string]any:
		m, err := r.toMap(x)
		if err != nil {
			return variant.None(), err
		}
		return variant.MapOf(m), nil
	default:
		return variant.None(), faults.Wrap(faults.ErrTypeMismatch, "unsupported script value %T", v)
	}
}

func allFloats(in []any) ([]float64, bool) {
	if len(in) == 0 {
		return nil, false
	}
	out := make([]float64, len(in))
	for i, el := range in {
		f, ok := el.(float64)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}
