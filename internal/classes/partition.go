package classes

import (
	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/objects"
	"github.com/danmuck/spectre/internal/variant"
)

// Partition splits an integer total across the group so that each
// participant holds only its own share.
type Partition struct {
	objects.Params
	env   Env
	total int64
}

func NewPartition(env Env) *Partition {
	p := &Partition{env: env}
	p.Int("total", &p.total)
	return p
}

func (p *Partition) Construct(params variant.Map) error {
	if err := p.Apply(params); err != nil {
		return err
	}
	if p.total < 0 {
		return faults.Wrap(faults.ErrTypeMismatch, "total must be non-negative, got %d", p.total)
	}
	return nil
}

// ShareOf is the part of total owned by rank in a group of size.
func ShareOf(total int64, rank, size int) int64 {
	if size <= 0 {
		return 0
	}
	share := total / int64(size)
	if int64(rank) < total%int64(size) {
		share++
	}
	return share
}

func (p *Partition) CallMethod(name string, args variant.Map) (variant.Variant, error) {
	if err := noArgs(args); err != nil {
		return variant.None(), err
	}
	switch name {
	case "local_share":
		return variant.Int(ShareOf(p.total, p.env.Rank, p.env.Size)), nil
	case "sum":
		var sum int64
		for rank := 0; rank < p.env.Size; rank++ {
			sum += ShareOf(p.total, rank, p.env.Size)
		}
		return variant.Int(sum), nil
	default:
		return variant.None(), noMethod("Partition", name)
	}
}
