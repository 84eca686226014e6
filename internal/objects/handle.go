package objects

import "github.com/danmuck/spectre/internal/variant"

// Handle is the contract a managed class implements. One fresh Handle is
// created per ObjectID on every participant.
type Handle interface {
	Construct(params variant.Map) error
	SetParameter(name string, value variant.Variant) error
	CallMethod(name string, args variant.Map) (variant.Variant, error)
}

// ParameterReader is implemented by handles whose parameters can be read
// back for inspection.
type ParameterReader interface {
	Parameter(name string) (variant.Variant, error)
	ParameterNames() []string
}

// Instance is one live entry of a Table.
type Instance struct {
	ID     variant.ObjectID
	Class  string
	Handle Handle
}

func (i *Instance) ObjectID() variant.ObjectID { return i.ID }
