package classes

import (
	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/objects"
	"github.com/danmuck/spectre/internal/variant"
)

// Wall is a planar constraint at a distance along a normal.
type Wall struct {
	objects.Params
	distance float64
	normal   []float64
}

func NewWall() *Wall {
	w := &Wall{normal: []float64{0, 0, 1}}
	w.Float("distance", &w.distance)
	w.Floats("normal", &w.normal)
	return w
}

func (w *Wall) Construct(params variant.Map) error {
	if err := w.Apply(params); err != nil {
		return err
	}
	if len(w.normal) != 3 {
		return faults.Wrap(faults.ErrTypeMismatch, "normal needs 3 components, got %d", len(w.normal))
	}
	return nil
}

func (w *Wall) CallMethod(name string, args variant.Map) (variant.Variant, error) {
	switch name {
	case "get_distance":
		if err := noArgs(args); err != nil {
			return variant.None(), err
		}
		return variant.Float(w.distance), nil
	case "shift":
		v, err := arg(args, "by")
		if err != nil {
			return variant.None(), err
		}
		by, err := v.AsFloat()
		if err != nil {
			return variant.None(), faults.Wrap(faults.ErrArgumentMismatch, "by: %v", err)
		}
		w.distance += by
		return variant.Float(w.distance), nil
	default:
		return variant.None(), noMethod("Wall", name)
	}
}
