package objects

import (
	"sort"

	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/variant"
)

type param struct {
	get func() variant.Variant
	set func(variant.Variant) error
}

// Params is a table of named parameters. Classes embed it to get
// SetParameter, Parameter and ParameterNames for free.
type Params struct {
	items map[string]param
}

// Add registers a parameter. A nil setter makes it read-only.
func (p *Params) Add(name string, get func() variant.Variant, set func(variant.Variant) error) {
	if p.items == nil {
		p.items = make(map[string]param)
	}
	p.items[name] = param{get: get, set: set}
}

func (p *Params) Float(name string, dst *float64) {
	p.Add(name, func() variant.Variant { return variant.Float(*dst) }, func(v variant.Variant) error {
		f, err := v.AsFloat()
		if err != nil {
			return err
		}
		*dst = f
		return nil
	})
}

func (p *Params) Int(name string, dst *int64) {
	p.Add(name, func() variant.Variant { return variant.Int(*dst) }, func(v variant.Variant) error {
		i, err := v.AsInt()
		if err != nil {
			return err
		}
		*dst = i
		return nil
	})
}

func (p *Params) Text(name string, dst *string) {
	p.Add(name, func() variant.Variant { return variant.String(*dst) }, func(v variant.Variant) error {
		s, err := v.AsString()
		if err != nil {
			return err
		}
		*dst = s
		return nil
	})
}

func (p *Params) Floats(name string, dst *[]float64) {
	p.Add(name, func() variant.Variant { return variant.Floats(*dst...) }, func(v variant.Variant) error {
		fs, err := v.AsFloats()
		if err != nil {
			return err
		}
		*dst = fs
		return nil
	})
}

// Value stores any variant unchecked.
func (p *Params) Value(name string, dst *variant.Variant) {
	p.Add(name, func() variant.Variant { return *dst }, func(v variant.Variant) error {
		*dst = v
		return nil
	})
}

func (p *Params) SetParameter(name string, value variant.Variant) error {
	it, ok := p.items[name]
	if !ok {
		return faults.Wrap(faults.ErrUnknownParameter, "%q", name)
	}
	if it.set == nil {
		return faults.Wrap(faults.ErrUnknownParameter, "%q is read-only", name)
	}
	if err := it.set(value); err != nil {
		return faults.Wrap(faults.ErrTypeMismatch, "parameter %q: %v", name, err)
	}
	return nil
}

func (p *Params) Parameter(name string) (variant.Variant, error) {
	it, ok := p.items[name]
	if !ok {
		return variant.None(), faults.Wrap(faults.ErrUnknownParameter, "%q", name)
	}
	return it.get(), nil
}

func (p *Params) ParameterNames() []string {
	names := make([]string, 0, len(p.items))
	for name := range p.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply sets every entry of params in key order, stopping at the first error.
func (p *Params) Apply(params variant.Map) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := p.SetParameter(k, params[k]); err != nil {
			return err
		}
	}
	return nil
}
