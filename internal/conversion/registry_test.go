package conversion

import (
	"context"
	"reflect"
	"testing"

	"github.com/shc-project/shc/internal/base"
)

type mode int

const (
	modeOff mode = iota
	modeHeat
	modeCool
)

func TestBuiltinScalarRoundTrips(t *testing.T) {
	r := NewRegistry()
	boolT := reflect.TypeOf(false)
	intT := reflect.TypeOf(int64(0))

	toInt, ok := r.Lookup(boolT, intT)
	if !ok {
		t.Fatal("expected bool->int64 converter")
	}
	v, err := toInt(true)
	if err != nil || v.(int64) != 1 {
		t.Fatalf("bool->int64(true) = %v, %v", v, err)
	}

	toBool, ok := r.Lookup(intT, boolT)
	if !ok {
		t.Fatal("expected int64->bool converter")
	}
	v, err = toBool(int64(0))
	if err != nil || v.(bool) != false {
		t.Fatalf("int64->bool(0) = %v, %v", v, err)
	}
}

// fakeTyped is a minimal Subscribable+Writable+ValueTyped connectable used to
// exercise ConnectTyped's per-direction converter resolution without pulling
// in internal/variable.
type fakeTyped struct {
	name      string
	valueType reflect.Type
	target    base.Writable
	converter base.Converter
	written   any
}

func (f *fakeTyped) Identity() base.Identity { return f }
func (f *fakeTyped) ValueType() reflect.Type { return f.valueType }

func (f *fakeTyped) Subscribe(target base.Writable, converter base.Converter) {
	f.target = target
	f.converter = converter
}

func (f *fakeTyped) Write(ctx context.Context, value any, origin base.Origin) error {
	f.written = value
	return nil
}

// publish delivers value through f's subscription, the way internal/base's
// Publisher would, to observe which converter Subscribe actually installed.
func (f *fakeTyped) publish(value any) error {
	if f.converter != nil {
		converted, err := f.converter(value)
		if err != nil {
			return err
		}
		value = converted
	}
	return f.target.Write(context.Background(), value, base.Origin{})
}

func TestConnectTypedUsesDistinctConverterPerDirection(t *testing.T) {
	r := NewRegistry()
	a := &fakeTyped{name: "a", valueType: reflect.TypeOf(false)}
	b := &fakeTyped{name: "b", valueType: reflect.TypeOf(float64(0))}

	if err := r.ConnectTyped(a, b); err != nil {
		t.Fatalf("ConnectTyped: %v", err)
	}

	// a->b must run the bool->float64 converter, not float64->bool.
	if err := a.publish(true); err != nil {
		t.Fatalf("publish a->b: %v", err)
	}
	if got, ok := b.written.(float64); !ok || got != 1.0 {
		t.Fatalf("a->b delivered %#v (%T), want float64(1)", b.written, b.written)
	}

	// b->a must run the float64->bool converter, not bool->float64 — using
	// the a->b converter here would attempt value.(bool) on a float64 and
	// panic instead of converting.
	if err := b.publish(0.0); err != nil {
		t.Fatalf("publish b->a: %v", err)
	}
	if got, ok := a.written.(bool); !ok || got != false {
		t.Fatalf("b->a delivered %#v (%T), want bool(false)", a.written, a.written)
	}
}

func TestEnumJSONRoundTrip(t *testing.T) {
	r := NewRegistry()
	RegisterJSONCodec[mode](r,
		func(m mode) (any, error) { return int(m), nil },
		func(v any) (mode, error) { return mode(int(v.(float64))), nil },
	)

	data, err := r.EncodeJSON(modeHeat)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != "1" {
		t.Errorf("encoded = %s, want 1", data)
	}

	decoded, err := r.DecodeJSON(reflect.TypeOf(modeHeat), data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.(mode) != modeHeat {
		t.Errorf("decoded = %v, want %v", decoded, modeHeat)
	}
}

func TestDecodeJSONDefaultStructPath(t *testing.T) {
	type Point struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	r := NewRegistry()
	data, err := r.EncodeJSON(Point{X: 1, Y: 2})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := r.DecodeJSON(reflect.TypeOf(Point{}), data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.(Point) != (Point{X: 1, Y: 2}) {
		t.Errorf("decoded = %+v", decoded)
	}
}
