package broker

import (
	"context"
	"testing"

	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/variant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Any sequence of head operations leaves every participant with the same
// id -> class map and allocates ids strictly increasing. An object outlives
// its last Ref only while another object refers to it.
func TestGroupConsistencyProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		g := newTestGroup(t, 3, nil)
		ctx := context.Background()
		var live []*Ref
		var lastID variant.ObjectID
		seen := map[variant.ObjectID]bool{}

		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.SampledFrom([]string{"wall", "group", "set", "call", "bad_call", "release"}).Draw(rt, "op")
			switch op {
			case "wall", "group":
				params := variant.Map{}
				class := "Wall"
				if op == "wall" {
					params["distance"] = variant.Float(rapid.Float64Range(-10, 10).Draw(rt, "distance"))
				} else {
					class = "Group"
					members := make([]variant.Variant, 0, len(live))
					for _, r := range live {
						if rapid.Bool().Draw(rt, "member") {
							members = append(members, variant.Ref(r))
						}
					}
					params["members"] = variant.List(members...)
				}
				ref, err := g.head.MakeShared(ctx, class, params)
				require.NoError(rt, err)
				id := ref.ObjectID()
				require.Greater(rt, id, lastID)
				require.False(rt, seen[id], "id %d reused", id)
				seen[id] = true
				lastID = id
				live = append(live, ref)
			case "set", "call", "bad_call", "release":
				if len(live) == 0 {
					continue
				}
				idx := rapid.IntRange(0, len(live)-1).Draw(rt, "target")
				ref := live[idx]
				switch op {
				case "set":
					err := g.head.NotifySetParameter(ctx, ref, "distance", variant.Float(1))
					if ref.Class() == "Wall" {
						require.NoError(rt, err)
					} else {
						assert.ErrorIs(rt, err, faults.ErrUnknownParameter)
					}
				case "call":
					method := "get_distance"
					if ref.Class() == "Group" {
						method = "size"
					}
					require.NoError(rt, g.head.NotifyCallMethod(ctx, ref, method, nil))
				case "bad_call":
					assert.ErrorIs(rt, g.head.NotifyCallMethod(ctx, ref, "nope", nil), faults.ErrUnknownMethod)
				case "release":
					require.NoError(rt, ref.Release(ctx))
					live = append(live[:idx], live[idx+1:]...)
				}
			}

			want := g.head.Table().Classes()
			for _, c := range g.ranks[1:] {
				require.Equal(rt, want, c.Table().Classes())
			}
			held := map[variant.ObjectID]bool{}
			for _, r := range live {
				held[r.ObjectID()] = true
			}
			for id := range want {
				require.True(rt, held[id] || g.head.Referrers(id) > 0, "object %d outlived every holder", id)
			}
		}
		for _, r := range live {
			require.NoError(rt, r.Release(ctx))
		}
		for _, c := range g.ranks {
			require.Zero(rt, c.Table().Len(), "rank %d", c.Rank())
		}
		require.Zero(rt, g.abortCount())
	})
}
