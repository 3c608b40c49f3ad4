package config

import (
	"context"
	"testing"
	"time"

	"github.com/shc-project/shc/internal/base"
	"github.com/shc-project/shc/internal/datalog"
	"github.com/shc-project/shc/internal/variable"
)

type fakeStore struct{}

func (fakeStore) Insert(ctx context.Context, name string, rows []datalog.Row) error { return nil }
func (fakeStore) Query(ctx context.Context, name string, start, end time.Time, includePrevious bool) ([]datalog.Row, error) {
	return nil, nil
}
func (fakeStore) Close() error { return nil }

func TestGraphValidateRejectsUnknownType(t *testing.T) {
	g := GraphConfig{Objects: []ObjectDecl{{Name: "x", Type: "bogus"}}}
	if err := g.Validate(); err == nil {
		t.Fatal("expected an error for an unrecognised object type")
	}
}

func TestGraphValidateRejectsUndeclaredConnectTarget(t *testing.T) {
	g := GraphConfig{
		Objects: []ObjectDecl{{Name: "a", Type: "variable", ValueType: "bool"}},
		Connect: []ConnectionPair{{From: "a", To: "missing"}},
	}
	if err := g.Validate(); err == nil {
		t.Fatal("expected an error for a connect pair referencing an undeclared object")
	}
}

func TestGraphBuildWiresVariablesTogether(t *testing.T) {
	g := GraphConfig{
		Objects: []ObjectDecl{
			{Name: "switch", Type: "variable", ValueType: "bool"},
			{Name: "mirror", Type: "variable", ValueType: "bool"},
		},
		Connect: []ConnectionPair{{From: "switch", To: "mirror"}},
	}

	built, err := g.Build(fakeStore{}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	sw := built.Objects["switch"].(*variable.Variable[bool])
	mirror := built.Objects["mirror"].(*variable.Variable[bool])

	ctx := context.Background()
	if err := sw.Write(ctx, true, base.NewOrigin()); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if v, err := mirror.Read(ctx); err == nil && v == true {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("mirror never observed the switch's published value")
}

// TestGraphBuildConvertsAcrossDifferingTypesBothDirections wires a bool
// variable to a float variable and writes through each side, checking that
// each direction applies its own (correct) converter rather than one
// direction's converter leaking onto the other edge.
func TestGraphBuildConvertsAcrossDifferingTypesBothDirections(t *testing.T) {
	g := GraphConfig{
		Objects: []ObjectDecl{
			{Name: "a", Type: "variable", ValueType: "bool"},
			{Name: "b", Type: "variable", ValueType: "float"},
		},
		Connect: []ConnectionPair{{From: "a", To: "b"}},
	}

	built, err := g.Build(fakeStore{}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	a := built.Objects["a"].(*variable.Variable[bool])
	b := built.Objects["b"].(*variable.Variable[float64])
	ctx := context.Background()

	if err := a.Write(ctx, true, base.NewOrigin()); err != nil {
		t.Fatalf("write a: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if v, err := b.Read(ctx); err == nil && v == 1.0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if v, err := b.Read(ctx); err != nil || v != 1.0 {
		t.Fatalf("b = %v, %v, want 1.0", v, err)
	}

	if err := b.Write(ctx, 0.0, base.NewOrigin()); err != nil {
		t.Fatalf("write b: %v", err)
	}
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if v, err := a.Read(ctx); err == nil && v == false {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("a never observed b's converted value")
}

func TestGraphBuildConstructsDatalogObject(t *testing.T) {
	g := GraphConfig{
		Objects: []ObjectDecl{{Name: "power", Type: "datalog", ValueType: "float"}},
	}
	built, err := g.Build(fakeStore{}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	v, ok := built.Objects["power"].(*datalog.WritableDataLogVariable[float64])
	if !ok {
		t.Fatalf("expected *datalog.WritableDataLogVariable[float64], got %T", built.Objects["power"])
	}
	if err := v.Write(context.Background(), 3.0, base.NewOrigin()); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestGraphBuildConstructsAndStartsTimer(t *testing.T) {
	g := GraphConfig{
		Objects: []ObjectDecl{{Name: "tick", Type: "timer", Timer: &TimerDecl{IntervalMS: 5}}},
	}
	built, err := g.Build(fakeStore{}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(built.Startables) != 1 {
		t.Fatalf("expected 1 startable, got %d", len(built.Startables))
	}
	built.Startables[0].Start()
	defer built.Startables[0].Stop()
	time.Sleep(20 * time.Millisecond)
}
