package classes

import (
	"github.com/danmuck/spectre/internal/objects"
	"github.com/danmuck/spectre/internal/variant"
)

// Recorder keeps every value passed to its record method, in call order.
type Recorder struct {
	objects.Params
	label   string
	entries []variant.Variant
	closed  bool
}

func NewRecorder() *Recorder {
	r := &Recorder{}
	r.Text("label", &r.label)
	r.Add("count", func() variant.Variant { return variant.Int(int64(len(r.entries))) }, nil)
	return r
}

func (r *Recorder) Construct(params variant.Map) error { return r.Apply(params) }

func (r *Recorder) CallMethod(name string, args variant.Map) (variant.Variant, error) {
	switch name {
	case "record":
		v, err := arg(args, "value")
		if err != nil {
			return variant.None(), err
		}
		r.entries = append(r.entries, v)
		return variant.Int(int64(len(r.entries))), nil
	case "entries":
		if err := noArgs(args); err != nil {
			return variant.None(), err
		}
		return variant.List(r.entries...), nil
	default:
		return variant.None(), noMethod("Recorder", name)
	}
}

// Entries returns the recorded values.
func (r *Recorder) Entries() []variant.Variant {
	return append([]variant.Variant(nil), r.entries...)
}

func (r *Recorder) Close() error {
	r.closed = true
	return nil
}

func (r *Recorder) Closed() bool { return r.closed }
