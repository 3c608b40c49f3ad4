package datalog

import (
	"database/sql"
	"testing"
)

func TestDefaultCodecRoundTripsFloat(t *testing.T) {
	codec := DefaultCodec[float64]()
	kind, _, floatVal, _, err := codec.Encode(3.5)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if kind != ColumnFloat {
		t.Fatalf("expected ColumnFloat, got %v", kind)
	}
	got, err := codec.Decode(sql.NullInt64{}, sql.NullFloat64{Float64: floatVal, Valid: true}, sql.NullString{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != 3.5 {
		t.Errorf("got %v, want 3.5", got)
	}
}

func TestDefaultCodecRoundTripsBoolAsInt(t *testing.T) {
	codec := DefaultCodec[bool]()
	kind, intVal, _, _, err := codec.Encode(true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if kind != ColumnInt || intVal != 1 {
		t.Fatalf("expected (ColumnInt, 1), got (%v, %v)", kind, intVal)
	}
	got, err := codec.Decode(sql.NullInt64{Int64: intVal, Valid: true}, sql.NullFloat64{}, sql.NullString{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got {
		t.Error("expected true")
	}
}

func TestDefaultCodecJSONEncodesStructs(t *testing.T) {
	type reading struct {
		Lux int `json:"lux"`
	}
	codec := DefaultCodec[reading]()
	kind, _, _, strVal, err := codec.Encode(reading{Lux: 42})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if kind != ColumnString {
		t.Fatalf("expected ColumnString, got %v", kind)
	}
	got, err := codec.Decode(sql.NullInt64{}, sql.NullFloat64{}, sql.NullString{String: strVal, Valid: true})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Lux != 42 {
		t.Errorf("got %+v, want Lux=42", got)
	}
}

// mode is an enum-like type whose data-log codec must reconstruct the member
// from its underlying int, per spec's "Enum round-trip" requirement.
type mode int

const (
	modeOff mode = iota
	modeAuto
	modeManual
)

type modeCodec struct{}

func (modeCodec) Encode(value mode) (ColumnKind, int64, float64, string, error) {
	return ColumnInt, int64(value), 0, "", nil
}

func (modeCodec) Decode(intVal sql.NullInt64, _ sql.NullFloat64, _ sql.NullString) (mode, error) {
	return mode(intVal.Int64), nil
}

func TestEnumCodecRoundTripsThroughUnderlyingValue(t *testing.T) {
	codec := modeCodec{}
	kind, intVal, _, _, err := codec.Encode(modeManual)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if kind != ColumnInt {
		t.Fatalf("expected ColumnInt, got %v", kind)
	}
	got, err := codec.Decode(sql.NullInt64{Int64: intVal, Valid: true}, sql.NullFloat64{}, sql.NullString{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != modeManual {
		t.Errorf("got %v, want %v", got, modeManual)
	}
}
