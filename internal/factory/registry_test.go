package factory

import (
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/spectre/internal/faults"
	"github.com/danmuck/spectre/internal/objects"
	"github.com/danmuck/spectre/internal/testutil/testlog"
	"github.com/danmuck/spectre/internal/variant"
)

type counter struct {
	objects.Params
	start int64
}

func newCounter() objects.Handle {
	c := &counter{}
	c.Int("start", &c.start)
	return c
}

func (c *counter) Construct(params variant.Map) error { return c.Apply(params) }

func (c *counter) CallMethod(name string, args variant.Map) (variant.Variant, error) {
	return variant.Int(c.start), nil
}

func TestRegisterAndCreate(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	if err := r.Register("Counter", newCounter); err != nil {
		t.Fatalf("register: %v", err)
	}
	h, err := r.Create("Counter", variant.Map{"start": variant.Int(3)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := h.CallMethod("value", nil)
	if err != nil || !variant.Equal(got, variant.Int(3)) {
		t.Fatalf("unexpected value %v err=%v", got, err)
	}
	if !r.Has("Counter") || r.Has("Wall") {
		t.Fatalf("unexpected Has results")
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	if err := r.Register("  ", newCounter); !errors.Is(err, ErrInvalidClassName) {
		t.Fatalf("expected ErrInvalidClassName, got %v", err)
	}
	if err := r.Register("Counter", nil); !errors.Is(err, ErrConstructorNil) {
		t.Fatalf("expected ErrConstructorNil, got %v", err)
	}
	if err := r.Register("Counter", newCounter); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("Counter", newCounter); !errors.Is(err, ErrClassExists) {
		t.Fatalf("expected ErrClassExists, got %v", err)
	}
}

func TestCreateFailures(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	_ = r.Register("Counter", newCounter)
	if _, err := r.Create("Missing", nil); !errors.Is(err, faults.ErrClassNotFound) {
		t.Fatalf("expected ErrClassNotFound, got %v", err)
	}
	if _, err := r.Create("Counter", variant.Map{"start": variant.String("x")}); !errors.Is(err, faults.ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	if _, err := r.Create("Counter", variant.Map{"bogus": variant.Int(1)}); !errors.Is(err, faults.ErrUnknownParameter) {
		t.Fatalf("expected ErrUnknownParameter, got %v", err)
	}
}

func TestNamesSorted(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	for _, name := range []string{"Wall", "Group", "Partition"} {
		if err := r.Register(name, newCounter); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	want := []string{"Group", "Partition", "Wall"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected names: %v", got)
	}
	if !SameClasses(want, r.Names()) || SameClasses(want, want[:2]) {
		t.Fatalf("unexpected SameClasses result")
	}
}
