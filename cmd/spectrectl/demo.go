package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/spectre/internal/broker"
	"github.com/danmuck/spectre/internal/classes"
	"github.com/danmuck/spectre/internal/dispatch"
	"github.com/danmuck/spectre/internal/factory"
	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/objects"
	"github.com/danmuck/spectre/internal/observability"
	"github.com/danmuck/spectre/internal/variant"
	"github.com/spf13/cobra"
)

func newDemoCommand() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Create, update, link and release objects on an in-process group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if size < 1 {
				return wrapExit(exitUsage, "demo", fmt.Errorf("--size must be >= 1, got %d", size))
			}
			return runDemo(commandContext(cmd), size, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&size, "size", 3, "number of participants, head included")
	return cmd
}

type demoGroup struct {
	ranks []*broker.Context
	local *dispatch.LocalGroup
}

func newDemoGroup(size int) (*demoGroup, error) {
	g := &demoGroup{}
	muxes := make([]*dispatch.Mux, size)
	for rank := 0; rank < size; rank++ {
		reg := factory.NewRegistry()
		if err := classes.RegisterBuiltins(reg, classes.Env{Rank: rank, Size: size}); err != nil {
			return nil, err
		}
		c := broker.New(rank, reg)
		muxes[rank] = dispatch.NewMux(rank, dispatch.NewLog(0))
		if err := c.Bind(muxes[rank]); err != nil {
			return nil, err
		}
		g.ranks = append(g.ranks, c)
	}
	g.local = dispatch.NewLocalGroup(muxes...)
	g.ranks[0].Attach(observability.InstrumentChannel(g.local))
	return g, nil
}

// each runs fn against every rank's local instance of id.
func (g *demoGroup) each(id variant.ObjectID, fn func(rank int, h objects.Handle) error) error {
	for _, c := range g.ranks {
		inst, err := c.Table().Get(id)
		if err != nil {
			return fmt.Errorf("rank %d: %w", c.Rank(), err)
		}
		if err := fn(c.Rank(), inst.Handle); err != nil {
			return fmt.Errorf("rank %d: %w", c.Rank(), err)
		}
	}
	return nil
}

func runDemo(ctx context.Context, size int, out io.Writer) error {
	g, err := newDemoGroup(size)
	if err != nil {
		return err
	}
	defer g.local.Close()
	head := g.ranks[0]

	// create: replication carries the object and its parameters.
	wall, err := head.MakeShared(ctx, "Wall", variant.Map{"distance": variant.Float(2.0)})
	if err != nil {
		return err
	}
	err = g.each(wall.ObjectID(), func(_ int, h objects.Handle) error {
		return expectDistance(h, 2.0)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "create: %s created on %d participants, distance=2\n", wall, size)

	// set: a parameter change is seen by every participant's own instance.
	if err := head.NotifySetParameter(ctx, wall, "distance", variant.Float(3.5)); err != nil {
		return err
	}
	err = g.each(wall.ObjectID(), func(_ int, h objects.Handle) error {
		return expectDistance(h, 3.5)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "set: get_distance returns 3.5 on every participant\n")

	// refs: references resolve to each participant's own instances.
	other, err := head.MakeShared(ctx, "Wall", variant.Map{"distance": variant.Float(1.0)})
	if err != nil {
		return err
	}
	group, err := head.MakeShared(ctx, "Group", variant.Map{
		"members": variant.List(variant.Ref(wall), variant.Ref(other)),
	})
	if err != nil {
		return err
	}
	for _, c := range g.ranks {
		inst, err := c.Table().Get(group.ObjectID())
		if err != nil {
			return err
		}
		members := inst.Handle.(*classes.Group).Members()
		for i, want := range []variant.ObjectID{wall.ObjectID(), other.ObjectID()} {
			local, _ := c.Table().Lookup(want)
			if members[i] != local {
				return fmt.Errorf("rank %d: member %d is not the local instance of object %d", c.Rank(), i, want)
			}
		}
	}
	fmt.Fprintf(out, "refs: %s members resolve to local instances on every participant\n", group)

	// Partition: each rank holds its share of the total.
	part, err := head.MakeShared(ctx, "Partition", variant.Map{"total": variant.Int(10)})
	if err != nil {
		return err
	}
	shares := make([]int64, size)
	err = g.each(part.ObjectID(), func(rank int, h objects.Handle) error {
		v, err := h.(*classes.Partition).CallMethod("local_share", nil)
		if err != nil {
			return err
		}
		shares[rank], err = v.AsInt()
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "partition: total=10 shares=%v\n", shares)

	// release: dropping the last reference deletes everywhere; the id is gone.
	for _, ref := range []*broker.Ref{group, part, other, wall} {
		if err := ref.Release(ctx); err != nil {
			return err
		}
	}
	err = head.NotifySetParameter(ctx, wall, "distance", variant.Float(9))
	if !errors.Is(err, faults.ErrUnknownID) {
		return fmt.Errorf("set after release: want unknown id, got %v", err)
	}
	for _, c := range g.ranks {
		if n := c.Table().Len(); n != 0 {
			return fmt.Errorf("rank %d still holds %d objects", c.Rank(), n)
		}
	}
	fmt.Fprintf(out, "release: deleted %s everywhere; later set fails with %q\n", wall, faults.Code(err))
	return nil
}

func expectDistance(h objects.Handle, want float64) error {
	w, ok := h.(*classes.Wall)
	if !ok {
		return fmt.Errorf("handle is %T, want *classes.Wall", h)
	}
	v, err := w.CallMethod("get_distance", nil)
	if err != nil {
		return err
	}
	got, err := v.AsFloat()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("distance %v, want %v", got, want)
	}
	return nil
}
