package classes

import (
	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/objects"
	"github.com/danmuck/spectre/internal/variant"
)

// Group holds references to other shared objects.
type Group struct {
	objects.Params
	members []variant.Object
}

func NewGroup() *Group {
	g := &Group{}
	g.Add("members", g.memberList, g.setMembers)
	return g
}

func (g *Group) Construct(params variant.Map) error { return g.Apply(params) }

func (g *Group) memberList() variant.Variant {
	out := make([]variant.Variant, len(g.members))
	for i, m := range g.members {
		out[i] = variant.Ref(m)
	}
	return variant.List(out...)
}

func (g *Group) setMembers(v variant.Variant) error {
	list, err := v.AsList()
	if err != nil {
		return err
	}
	members := make([]variant.Object, len(list))
	for i, el := range list {
		obj, err := el.AsObject()
		if err != nil {
			return faults.Wrap(faults.ErrTypeMismatch, "members[%d]: %v", i, err)
		}
		members[i] = obj
	}
	g.members = members
	return nil
}

// Members returns the referenced objects in order.
func (g *Group) Members() []variant.Object {
	return append([]variant.Object(nil), g.members...)
}

func (g *Group) CallMethod(name string, args variant.Map) (variant.Variant, error) {
	switch name {
	case "size":
		if err := noArgs(args); err != nil {
			return variant.None(), err
		}
		return variant.Int(int64(len(g.members))), nil
	case "add":
		v, err := arg(args, "member")
		if err != nil {
			return variant.None(), err
		}
		obj, err := v.AsObject()
		if err != nil {
			return variant.None(), faults.Wrap(faults.ErrArgumentMismatch, "member: %v", err)
		}
		g.members = append(g.members, obj)
		return variant.Int(int64(len(g.members))), nil
	case "ids":
		ids := make([]variant.Variant, len(g.members))
		for i, m := range g.members {
			ids[i] = variant.Int(int64(m.ObjectID()))
		}
		return variant.List(ids...), nil
	default:
		return variant.None(), noMethod("Group", name)
	}
}
