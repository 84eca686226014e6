// Package classes holds the managed classes every participant registers.
package classes

import (
	"github.com/danmuck/spectre/internal/factory"
	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/objects"
	"github.com/danmuck/spectre/internal/variant"
)

// Env is the participant's place in the group.
type Env struct {
	Rank int
	Size int
}

// RegisterBuiltins registers every class in this package. All participants
// must call it with the same registry contents.
func RegisterBuiltins(reg *factory.Registry, env Env) error {
	ctors := []struct {
		name string
		ctor factory.Constructor
	}{
		{"Wall", func() objects.Handle { return NewWall() }},
		{"Group", func() objects.Handle { return NewGroup() }},
		{"Partition", func() objects.Handle { return NewPartition(env) }},
		{"Recorder", func() objects.Handle { return NewRecorder() }},
	}
	for _, c := range ctors {
		if err := reg.Register(c.name, c.ctor); err != nil {
			return err
		}
	}
	return nil
}

func noMethod(class, name string) error {
	return faults.Wrap(faults.ErrUnknownMethod, "%s has no method %q", class, name)
}

func arg(args variant.Map, name string) (variant.Variant, error) {
	v, ok := args[name]
	if !ok {
		return variant.None(), faults.Wrap(faults.ErrArgumentMismatch, "missing argument %q", name)
	}
	return v, nil
}

func noArgs(args variant.Map) error {
	if len(args) != 0 {
		return faults.Wrap(faults.ErrArgumentMismatch, "takes no arguments, got %d", len(args))
	}
	return nil
}
